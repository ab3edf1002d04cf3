package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"careline/internal/pkg/messaging/application/querycache"
	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// ListConversationsUseCase serves the triage inbox: filtered conversations
// sorted by last activity, with results cached by query identity.
type ListConversationsUseCase struct {
	Repo  repository.ConversationRepository
	Cache *querycache.Cache // nil disables caching
}

func NewListConversationsUseCase(repo repository.ConversationRepository, cache *querycache.Cache) *ListConversationsUseCase {
	return &ListConversationsUseCase{Repo: repo, Cache: cache}
}

// Execute returns conversations matching the filter, last_message_at descending.
func (uc *ListConversationsUseCase) Execute(ctx context.Context, f messaging.ConversationFilter) ([]messaging.Conversation, error) {
	if uc.Cache == nil {
		convs, err := uc.Repo.List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return convs, nil
	}

	raw, err := uc.Cache.GetOrFetch(ctx, f.CacheKey(), func(ctx context.Context) (string, error) {
		convs, err := uc.Repo.List(ctx, f)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		b, err := json.Marshal(convs)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	if err != nil {
		return nil, err
	}

	var convs []messaging.Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		return nil, fmt.Errorf("list conversations: decode cached result: %w", err)
	}
	return convs, nil
}

// InvalidateLists drops every cached listing; call after any mutation that
// can change list contents or order.
func (uc *ListConversationsUseCase) InvalidateLists(ctx context.Context) {
	if uc.Cache != nil {
		uc.Cache.InvalidateAll(ctx)
	}
}
