package repository

import (
	"context"
	"time"

	messaging "careline/internal/pkg/messaging/domain"
)

// MessageRepository defines persistence operations for the append-only message
// log and its attachment metadata.
type MessageRepository interface {
	// Append inserts a message and returns the store-assigned id and
	// creation timestamp, the authority for global order.
	Append(ctx context.Context, m messaging.Message) (id string, createdAt time.Time, err error)

	// History returns messages ordered ascending by created_at with a stable
	// tie-break on insertion id, attachments hydrated.
	History(ctx context.Context, conversationID string, limit, offset int) ([]messaging.Message, error)

	// MarkRead applies the one-way unread -> read transition to every message
	// in the conversation not sent by readerID. Returns how many rows changed.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)

	// AddAttachment commits attachment metadata. Callers must have completed
	// the blob upload first; this insert is the commit point.
	AddAttachment(ctx context.Context, a messaging.Attachment) (string, error)
}
