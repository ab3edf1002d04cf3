package usecase

import (
	"context"
	"fmt"
	"time"

	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// MarkReadInput records that readerID has seen the conversation.
type MarkReadInput struct {
	ConversationID string
	ReaderID       string
}

// MarkReadUseCase applies read receipts: every message in the conversation
// not sent by the reader transitions unread -> read, exactly once.
type MarkReadUseCase struct {
	Repo repository.MessageRepository
}

func NewMarkReadUseCase(repo repository.MessageRepository) *MarkReadUseCase {
	return &MarkReadUseCase{Repo: repo}
}

// Execute returns how many messages changed state.
func (uc *MarkReadUseCase) Execute(ctx context.Context, in MarkReadInput) (int64, error) {
	if in.ConversationID == "" || in.ReaderID == "" {
		return 0, &messaging.ValidationError{Field: "mark_read", Reason: "conversation_id and reader_id are required"}
	}
	n, err := uc.Repo.MarkRead(ctx, in.ConversationID, in.ReaderID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}
