package usecase

import (
	"context"
	"fmt"

	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// GetHistoryInput carries parameters to fetch the message log of a conversation.
type GetHistoryInput struct {
	ConversationID string
	Limit          int
	Offset         int
}

// GetHistoryUseCase fetches messages for a conversation, ascending by
// created_at with a stable tie-break on id, attachments included.
type GetHistoryUseCase struct {
	Repo repository.MessageRepository
}

func NewGetHistoryUseCase(repo repository.MessageRepository) *GetHistoryUseCase {
	return &GetHistoryUseCase{Repo: repo}
}

// Execute returns the ordered history honoring limit/offset.
func (uc *GetHistoryUseCase) Execute(ctx context.Context, in GetHistoryInput) ([]messaging.Message, error) {
	if in.ConversationID == "" {
		return nil, &messaging.ValidationError{Field: "conversation_id", Reason: "conversation id is required"}
	}
	msgs, err := uc.Repo.History(ctx, in.ConversationID, in.Limit, in.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msgs, nil
}
