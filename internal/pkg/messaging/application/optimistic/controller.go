// Package optimistic applies sends locally before the store confirms them.
// Every mutation follows the same three-step shape: apply provisional,
// commit on confirmation, roll back on failure.
package optimistic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"careline/internal/metrics"
	"careline/internal/pkg/messaging/application/attachment"
	"careline/internal/pkg/messaging/application/notify"
	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// Entry is one row of the visible message list. Pending entries carry a
// temporary local id until the store assigns the durable one.
type Entry struct {
	messaging.Message
	TempID      string
	Pending     bool
	FailedFiles []messaging.AttachmentFailure
}

// Event reports how a send settled. Message is set whenever the insert
// landed; Err is a *messaging.TransportError after a full rollback or a
// *messaging.PartialFailure when only attachments failed.
type Event struct {
	TempID  string
	Message *messaging.Message
	Err     error
}

// Config wires a Controller to its collaborators. Metrics may be nil and
// Clock defaults to time.Now.
type Config struct {
	ConversationID string
	Messages       repository.MessageRepository
	Conversations  repository.ConversationRepository
	Pipeline       *attachment.Pipeline
	Notifier       notify.Notifier
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	SettleTimeout  time.Duration
	Clock          func() time.Time
}

// Controller owns the visible message list of one open conversation session.
// Send returns immediately with a provisional entry; settlement happens on a
// background goroutine and is reported through Events.
type Controller struct {
	conversationID string
	messages       repository.MessageRepository
	conversations  repository.ConversationRepository
	pipeline       *attachment.Pipeline
	notifier       notify.Notifier
	log            zerolog.Logger
	metrics        *metrics.Metrics
	timeout        time.Duration
	now            func() time.Time

	mu      sync.Mutex
	entries []Entry

	events chan Event
	wg     sync.WaitGroup
}

// NewController constructs a Controller for one conversation session.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 10 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	return &Controller{
		conversationID: cfg.ConversationID,
		messages:       cfg.Messages,
		conversations:  cfg.Conversations,
		pipeline:       cfg.Pipeline,
		notifier:       cfg.Notifier,
		log:            cfg.Logger.With().Str("component", "optimistic").Str("conversation_id", cfg.ConversationID).Logger(),
		metrics:        cfg.Metrics,
		timeout:        cfg.SettleTimeout,
		now:            cfg.Clock,
		events:         make(chan Event, 32),
	}
}

// SendInput carries one send request.
type SendInput struct {
	SenderID   string
	SenderType messaging.SenderType
	Content    string
	Files      []attachment.File
}

// Send validates the input, applies a provisional entry and starts the settle
// goroutine. It returns the provisional entry the caller can render at once.
// Sends are not cancellable mid-flight; abandoning the session just stops
// reading Events while the write completes.
func (c *Controller) Send(in SendInput) (Entry, error) {
	for _, f := range in.Files {
		if err := f.Validate(); err != nil {
			return Entry{}, err
		}
	}
	if in.SenderID == "" {
		return Entry{}, &messaging.ValidationError{Field: "sender_id", Reason: "sender is required"}
	}
	senderType, err := messaging.ParseSenderType(string(in.SenderType))
	if err != nil {
		return Entry{}, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Files) == 0 {
		return Entry{}, &messaging.ValidationError{Field: "content", Reason: "message must contain content or attachments"}
	}

	tempID := uuid.NewString()
	provisional := messaging.Message{
		ID:             tempID,
		ConversationID: c.conversationID,
		SenderID:       in.SenderID,
		SenderType:     senderType,
		Content:        content,
		MessageType:    messaging.MessageText,
		CreatedAt:      c.now().UTC(),
	}
	entry := Entry{Message: provisional, TempID: tempID, Pending: true}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.settle(provisional, in.Files, tempID)

	return entry, nil
}

// settle runs the durable insert and reconciliation. It uses a detached
// context so navigating away from the conversation cannot abort the write.
func (c *Controller) settle(msg messaging.Message, files []attachment.File, tempID string) {
	defer c.wg.Done()
	started := c.now()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	id, createdAt, err := c.messages.Append(ctx, msg)
	if err != nil {
		c.rollback(tempID)
		if c.metrics != nil {
			c.metrics.MessagesRolledBack.Inc()
		}
		c.log.Warn().Err(err).Str("temp_id", tempID).Msg("send rolled back")
		c.emit(Event{TempID: tempID, Err: &messaging.TransportError{Op: "message insert", Err: err}})
		return
	}

	durable := msg
	durable.ID = id
	durable.CreatedAt = createdAt

	// Attachment failures do not roll back the message (partial-success policy).
	var failed []messaging.AttachmentFailure
	for _, f := range files {
		att, upErr := c.pipeline.Upload(ctx, c.conversationID, id, f)
		if upErr != nil {
			failed = append(failed, messaging.AttachmentFailure{FileName: f.Name, Err: upErr})
			continue
		}
		durable.Attachments = append(durable.Attachments, *att)
	}

	c.Reconcile(tempID, durable, failed)

	// Best-effort bump; failure here never rolls back the message.
	if err := c.conversations.TouchLastMessage(ctx, c.conversationID, createdAt); err != nil {
		c.log.Warn().Err(err).Msg("last_message_at bump failed")
	}

	c.notifier.MessageCreated(ctx, durable)

	if c.metrics != nil {
		c.metrics.MessagesSent.Inc()
		c.metrics.SettleDuration.Observe(c.now().Sub(started).Seconds())
	}

	ev := Event{TempID: tempID, Message: &durable}
	if len(failed) > 0 {
		ev.Err = &messaging.PartialFailure{MessageID: id, Failed: failed}
	}
	c.emit(ev)
}

// Reconcile replaces the provisional entry identified by tempID with the
// durable message. Lookup is strictly by temporary id, never by content, so
// duplicate content cannot merge entries. Replaying the same reconciliation
// is a no-op: once the temp id is gone, a durable entry with the same id is
// never inserted twice. If the durable message already arrived through
// Ingest, the provisional entry is dropped instead of left stranded.
func (c *Controller) Reconcile(tempID string, durable messaging.Message, failed []messaging.AttachmentFailure) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].Message.ID == durable.ID && !c.entries[i].Pending {
			c.dropPendingLocked(tempID)
			return false // already reconciled
		}
	}
	for i := range c.entries {
		if c.entries[i].TempID == tempID && c.entries[i].Pending {
			c.entries[i] = Entry{Message: durable, TempID: tempID, Pending: false, FailedFiles: failed}
			c.resortLocked()
			return true
		}
	}
	return false
}

// Ingest merges a message that arrived from the subscription (another
// sender, or this sender on another device). Duplicates by id are dropped.
func (c *Controller) Ingest(m messaging.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].Message.ID == m.ID {
			return
		}
	}
	c.entries = append(c.entries, Entry{Message: m})
	c.resortLocked()
}

// Visible returns the current render order: confirmed entries sorted by
// (created_at, id), then provisional entries in client send order. A
// provisional entry may briefly appear out of final order while concurrent
// senders settle; reconciliation re-sorts it into place.
func (c *Controller) Visible() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Events exposes settle outcomes. The channel is buffered; when nobody is
// listening the oldest outcomes are dropped rather than blocking settlement.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Wait blocks until every in-flight send has settled. Used on shutdown and
// in tests; callers keep interacting without it.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) rollback(tempID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPendingLocked(tempID)
}

func (c *Controller) dropPendingLocked(tempID string) {
	for i := range c.entries {
		if c.entries[i].TempID == tempID && c.entries[i].Pending {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

func (c *Controller) emit(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
			// Buffer full: the session stopped listening. Drop the oldest.
			select {
			case <-c.events:
			default:
			}
		}
	}
}

// resortLocked restores render order after a confirmation or ingest.
func (c *Controller) resortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		if a.Pending != b.Pending {
			return !a.Pending // confirmed before provisional
		}
		if a.Pending {
			return false // provisional entries keep client send order
		}
		return messaging.Less(a.Message, b.Message)
	})
}
