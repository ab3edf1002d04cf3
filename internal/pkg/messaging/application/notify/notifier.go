// Package notify invokes the notification collaborator after server-confirmed
// events. Delivery is fire-and-forget; mechanics live outside this subsystem.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	queueport "careline/internal/infrastructure/queue/port"
	messaging "careline/internal/pkg/messaging/domain"
)

// Kind labels what happened.
type Kind string

const (
	KindNewMessage   Kind = "new_message"
	KindTriageChange Kind = "triage_change"
)

// Event is the payload handed to the notification collaborator.
type Event struct {
	Kind           Kind   `json:"kind"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	Field          string `json:"field,omitempty"`
	Value          string `json:"value,omitempty"`
}

// Notifier is invoked after events the store has confirmed. Implementations
// must never block the caller on delivery and never surface delivery errors.
type Notifier interface {
	MessageCreated(ctx context.Context, m messaging.Message)
	TriageChanged(ctx context.Context, conversationID, field, value, actorID string)
}

// TaskType is the queue task name carrying notification events.
const TaskType = "messaging:notify"

// QueueNotifier enqueues notification tasks on the notifications queue.
type QueueNotifier struct {
	q   queueport.Client
	log zerolog.Logger
}

func NewQueueNotifier(q queueport.Client, log zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{q: q, log: log.With().Str("component", "notify").Logger()}
}

// Ensure interface compliance at compile time
var _ Notifier = (*QueueNotifier)(nil)

func (n *QueueNotifier) MessageCreated(ctx context.Context, m messaging.Message) {
	n.enqueue(ctx, Event{
		Kind:           KindNewMessage,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		ActorID:        m.SenderID,
	})
}

func (n *QueueNotifier) TriageChanged(ctx context.Context, conversationID, field, value, actorID string) {
	n.enqueue(ctx, Event{
		Kind:           KindTriageChange,
		ConversationID: conversationID,
		ActorID:        actorID,
		Field:          field,
		Value:          value,
	})
}

func (n *QueueNotifier) enqueue(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Msg("encode notification")
		return
	}
	opts := queueport.EnqueueOption{Queue: "notifications", MaxRetry: 5, Retention: 24 * time.Hour}
	if _, err := n.q.Enqueue(ctx, queueport.Task{Type: TaskType, Payload: payload}, opts); err != nil {
		// Fire-and-forget: log and move on, never propagate.
		n.log.Warn().Err(err).Str("kind", string(ev.Kind)).
			Str("conversation_id", ev.ConversationID).Msg("enqueue notification failed")
	}
}

// Nop discards all notifications. Used where no collaborator is wired.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) MessageCreated(context.Context, messaging.Message)         {}
func (Nop) TriageChanged(_ context.Context, _ string, _, _, _ string) {}
