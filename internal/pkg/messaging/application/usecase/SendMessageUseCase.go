package usecase

import (
	"context"
	"fmt"

	"careline/internal/pkg/messaging/application/notify"
	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// SendMessageInput carries the data for a durable (non-optimistic) send, the
// path used by the HTTP API and background workers.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	SenderType     messaging.SenderType
	Content        string
	MessageType    messaging.MessageType
}

// SendMessageUseCase appends a message to the conversation log.
// Hexagonal: depends on repository ports, returns the domain entity.
type SendMessageUseCase struct {
	Messages      repository.MessageRepository
	Conversations repository.ConversationRepository
	Notifier      notify.Notifier
}

func NewSendMessageUseCase(messages repository.MessageRepository, conversations repository.ConversationRepository, notifier notify.Notifier) *SendMessageUseCase {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &SendMessageUseCase{Messages: messages, Conversations: conversations, Notifier: notifier}
}

// Execute validates and persists a new message, letting the store assign id
// and timestamp, then bumps the conversation watermark best-effort.
func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*messaging.Message, error) {
	msg, err := messaging.NewMessage(messaging.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderType:     in.SenderType,
		Content:        in.Content,
		MessageType:    in.MessageType,
	})
	if err != nil {
		return nil, err
	}

	id, createdAt, err := uc.Messages.Append(ctx, *msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	msg.ID = id
	msg.CreatedAt = createdAt

	// Best-effort: a failed bump never rolls back the message.
	_ = uc.Conversations.TouchLastMessage(ctx, in.ConversationID, createdAt)

	uc.Notifier.MessageCreated(ctx, *msg)
	return msg, nil
}
