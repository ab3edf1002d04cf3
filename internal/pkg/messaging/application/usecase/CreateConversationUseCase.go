package usecase

import (
	"context"
	"fmt"

	"careline/internal/pkg/messaging/application/notify"
	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// CreateConversationInput opens a new thread, either on a patient's first
// inbound message or admin-initiated. InitialContent may be empty for an
// admin-initiated thread; a system note marks the opening instead.
type CreateConversationInput struct {
	Subject        string
	PatientID      string
	PatientName    string
	ClinicID       string
	ClinicName     string
	BookingID      *string
	InitialContent string
	SenderID       string
	SenderType     messaging.SenderType
}

// CreateConversationUseCase persists a conversation and its opening message.
// Hexagonal: depends on repository ports only.
type CreateConversationUseCase struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Notifier      notify.Notifier
}

func NewCreateConversationUseCase(conversations repository.ConversationRepository, messages repository.MessageRepository, notifier notify.Notifier) *CreateConversationUseCase {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &CreateConversationUseCase{Conversations: conversations, Messages: messages, Notifier: notifier}
}

// Execute creates the thread and appends the first entry.
func (uc *CreateConversationUseCase) Execute(ctx context.Context, in CreateConversationInput) (*messaging.Conversation, error) {
	conv, err := messaging.NewConversation(messaging.Conversation{
		Subject:     in.Subject,
		PatientID:   in.PatientID,
		PatientName: in.PatientName,
		ClinicID:    in.ClinicID,
		ClinicName:  in.ClinicName,
		BookingID:   in.BookingID,
	})
	if err != nil {
		return nil, err
	}

	id, err := uc.Conversations.Create(ctx, *conv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	conv.ID = id

	opening := messaging.Message{
		ConversationID: id,
		SenderID:       in.SenderID,
		SenderType:     in.SenderType,
		Content:        in.InitialContent,
		MessageType:    messaging.MessageText,
	}
	if in.InitialContent == "" {
		opening.MessageType = messaging.MessageSystem
		opening.Content = "conversation opened"
	}
	msg, err := messaging.NewMessage(opening)
	if err != nil {
		return nil, err
	}

	msgID, createdAt, err := uc.Messages.Append(ctx, *msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	msg.ID = msgID
	msg.CreatedAt = createdAt

	// Keep the thread ordering invariant even when the store clock differs.
	if err := uc.Conversations.TouchLastMessage(ctx, id, createdAt); err == nil {
		conv.Touch(createdAt)
	}

	uc.Notifier.MessageCreated(ctx, *msg)
	return conv, nil
}
