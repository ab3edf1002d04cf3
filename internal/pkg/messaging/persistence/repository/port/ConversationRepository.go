package repository

import (
	"context"
	"time"

	messaging "careline/internal/pkg/messaging/domain"
)

// ConversationRepository defines persistence operations for conversation rows.
// These are pass-through query/update operations; business rules stay in the
// domain and application layers.
type ConversationRepository interface {
	Create(ctx context.Context, c messaging.Conversation) (string, error)
	GetByID(ctx context.Context, id string) (*messaging.Conversation, error)

	// List returns conversations matching the filter, sorted by
	// last_message_at descending.
	List(ctx context.Context, f messaging.ConversationFilter) ([]messaging.Conversation, error)

	// Triage fields mutate independently; no cross-field transaction.
	UpdateStatus(ctx context.Context, id string, status messaging.Status) error
	UpdatePriority(ctx context.Context, id string, priority messaging.Priority) error
	UpdateTags(ctx context.Context, id string, tags []string) error
	UpdateAssignee(ctx context.Context, id string, assignee *string) error

	// TouchLastMessage advances last_message_at, never backwards.
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}
