package messaging

import (
	"fmt"
	"strings"
	"time"
)

// SenderType identifies which party authored a message.
type SenderType string

const (
	SenderPatient SenderType = "patient"
	SenderClinic  SenderType = "clinic"
	SenderAdmin   SenderType = "admin"
)

// ParseSenderType maps a raw string onto the closed SenderType enumeration.
func ParseSenderType(s string) (SenderType, error) {
	switch SenderType(strings.ToLower(strings.TrimSpace(s))) {
	case SenderPatient:
		return SenderPatient, nil
	case SenderClinic:
		return SenderClinic, nil
	case SenderAdmin:
		return SenderAdmin, nil
	}
	return "", &ValidationError{Field: "sender_type", Reason: fmt.Sprintf("unknown sender type %q", s)}
}

// MessageType distinguishes user text from system-generated entries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// Message is an immutable log entry in a conversation. Only ReadAt may change
// after creation, and only in the unread -> read direction.
type Message struct {
	ID             string       `db:"id"`
	ConversationID string       `db:"conversation_id"`
	SenderID       string       `db:"sender_id"`
	SenderType     SenderType   `db:"sender_type"`
	Content        string       `db:"content"`
	MessageType    MessageType  `db:"message_type"`
	ReadAt         *time.Time   `db:"read_at"`
	CreatedAt      time.Time    `db:"created_at"`
	Attachments    []Attachment `db:"-"`
}

// NewMessage validates a message before it is applied optimistically or persisted.
// Content may be empty only when at least one attachment is present.
func NewMessage(m Message) (*Message, error) {
	if m.ConversationID == "" || m.SenderID == "" {
		return nil, &ValidationError{Field: "message", Reason: "conversation_id and sender_id are required"}
	}
	if _, err := ParseSenderType(string(m.SenderType)); err != nil {
		return nil, err
	}
	m.Content = strings.TrimSpace(m.Content)
	if m.MessageType == "" {
		m.MessageType = MessageText
	}
	if m.MessageType != MessageSystem && m.Content == "" && len(m.Attachments) == 0 {
		return nil, &ValidationError{Field: "content", Reason: "message must contain content or attachments"}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return &m, nil
}

// MarkRead applies the one-way unread -> read transition. Marking an already
// read message is a no-op; the first read timestamp wins.
func (m *Message) MarkRead(at time.Time) {
	if m.ReadAt == nil {
		t := at.UTC()
		m.ReadAt = &t
	}
}

// Less orders messages by creation time with a stable tie-break on id, the
// canonical render order for a conversation history.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Attachment is file metadata owned by a message. A row exists only after the
// object-storage upload completed; the metadata insert is the commit point.
type Attachment struct {
	ID        string `db:"id"`
	MessageID string `db:"message_id"`
	FileName  string `db:"file_name"`
	FileURL   string `db:"file_url"`
	FileType  string `db:"file_type"`
	FileSize  int64  `db:"file_size"`
}

// NewAttachment validates attachment metadata before the commit insert.
func NewAttachment(a Attachment) (*Attachment, error) {
	if a.MessageID == "" {
		return nil, &ValidationError{Field: "message_id", Reason: "attachment requires a durable message id"}
	}
	if a.FileName == "" || a.FileURL == "" {
		return nil, &ValidationError{Field: "file", Reason: "file_name and file_url are required"}
	}
	if a.FileSize <= 0 {
		return nil, &ValidationError{Field: "file_size", Reason: "file size must be greater than zero"}
	}
	return &a, nil
}
