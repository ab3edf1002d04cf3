package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careline/internal/pkg/messaging/application/querycache"

	cacheport "careline/internal/infrastructure/cache/port"
	messaging "careline/internal/pkg/messaging/domain"
)

type memConversationRepo struct {
	mu        sync.Mutex
	store     map[string]*messaging.Conversation
	listCalls int
	listErr   error
	seq       int
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{store: make(map[string]*messaging.Conversation)}
}

func (r *memConversationRepo) Create(ctx context.Context, c messaging.Conversation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c.ID = fmt.Sprintf("conv-%d", r.seq)
	r.store[c.ID] = &c
	return c.ID, nil
}

func (r *memConversationRepo) GetByID(ctx context.Context, id string) (*messaging.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.store[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memConversationRepo) List(ctx context.Context, f messaging.ConversationFilter) ([]messaging.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []messaging.Conversation
	for _, c := range r.store {
		if f.Matches(*c, "") {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memConversationRepo) UpdateStatus(ctx context.Context, id string, status messaging.Status) error {
	return nil
}

func (r *memConversationRepo) UpdatePriority(ctx context.Context, id string, priority messaging.Priority) error {
	return nil
}

func (r *memConversationRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	return nil
}

func (r *memConversationRepo) UpdateAssignee(ctx context.Context, id string, assignee *string) error {
	return nil
}

func (r *memConversationRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.store[id]; ok {
		c.Touch(at)
	}
	return nil
}

type memMessageRepo struct {
	mu        sync.Mutex
	messages  []messaging.Message
	seq       int
	appendErr error
	readMarks int64
}

func (r *memMessageRepo) Append(ctx context.Context, m messaging.Message) (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return "", time.Time{}, r.appendErr
	}
	r.seq++
	m.ID = fmt.Sprintf("msg-%d", r.seq)
	m.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(r.seq) * time.Second)
	r.messages = append(r.messages, m)
	return m.ID, m.CreatedAt, nil
}

func (r *memMessageRepo) History(ctx context.Context, conversationID string, limit, offset int) ([]messaging.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []messaging.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessageRepo) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.messages {
		m := &r.messages[i]
		if m.ConversationID == conversationID && m.SenderID != readerID && m.ReadAt == nil {
			m.MarkRead(at)
			n++
		}
	}
	r.readMarks += n
	return n, nil
}

func (r *memMessageRepo) AddAttachment(ctx context.Context, a messaging.Attachment) (string, error) {
	return "att-1", nil
}

// memBackend is a minimal cacheport.Cache for wiring a real querycache.
type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", cacheport.ErrMiss
	}
	return v, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		delete(m.data, k)
		n++
	}
	return n, nil
}

func (m *memBackend) Ping(ctx context.Context) error { return nil }
func (m *memBackend) Close() error                   { return nil }

func TestCreateConversationAppendsOpeningMessage(t *testing.T) {
	conversations := newMemConversationRepo()
	messages := &memMessageRepo{}
	uc := NewCreateConversationUseCase(conversations, messages, nil)

	conv, err := uc.Execute(context.Background(), CreateConversationInput{
		Subject:        "Veneers quote",
		PatientID:      "p1",
		PatientName:    "Jane Smith",
		ClinicID:       "cl1",
		ClinicName:     "Smile Clinic",
		InitialContent: "Hi, how much for 8 veneers?",
		SenderID:       "p1",
		SenderType:     messaging.SenderPatient,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)

	history, err := messages.History(context.Background(), conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, messaging.MessageText, history[0].MessageType)
	assert.Equal(t, history[0].CreatedAt, conv.LastMessageAt, "watermark follows the opening message")
}

func TestCreateConversationWithoutContentAddsSystemNote(t *testing.T) {
	conversations := newMemConversationRepo()
	messages := &memMessageRepo{}
	uc := NewCreateConversationUseCase(conversations, messages, nil)

	conv, err := uc.Execute(context.Background(), CreateConversationInput{
		Subject:    "Admin-initiated",
		PatientID:  "p1",
		ClinicID:   "cl1",
		SenderID:   "admin-1",
		SenderType: messaging.SenderAdmin,
	})
	require.NoError(t, err)

	history, _ := messages.History(context.Background(), conv.ID, 0, 0)
	require.Len(t, history, 1)
	assert.Equal(t, messaging.MessageSystem, history[0].MessageType)
	assert.Equal(t, "conversation opened", history[0].Content)
}

func TestSendMessageExecuteWrapsPersistenceErrors(t *testing.T) {
	messages := &memMessageRepo{appendErr: errors.New("connection refused")}
	uc := NewSendMessageUseCase(messages, newMemConversationRepo(), nil)

	_, err := uc.Execute(context.Background(), SendMessageInput{
		ConversationID: "c1",
		SenderID:       "u1",
		SenderType:     messaging.SenderPatient,
		Content:        "hello",
	})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSendMessageBumpsWatermark(t *testing.T) {
	conversations := newMemConversationRepo()
	id, err := conversations.Create(context.Background(), messaging.Conversation{PatientID: "p1", ClinicID: "cl1"})
	require.NoError(t, err)

	messages := &memMessageRepo{}
	uc := NewSendMessageUseCase(messages, conversations, nil)

	msg, err := uc.Execute(context.Background(), SendMessageInput{
		ConversationID: id,
		SenderID:       "p1",
		SenderType:     messaging.SenderPatient,
		Content:        "any update?",
	})
	require.NoError(t, err)

	stored, err := conversations.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt, stored.LastMessageAt)
}

func TestListConversationsCachesByFilterIdentity(t *testing.T) {
	conversations := newMemConversationRepo()
	_, err := conversations.Create(context.Background(), messaging.Conversation{
		PatientID: "p1", ClinicID: "cl1", Status: messaging.StatusActive,
	})
	require.NoError(t, err)

	cache := querycache.New(&memBackend{data: map[string]string{}}, time.Minute, zerolog.Nop(), nil)
	uc := NewListConversationsUseCase(conversations, cache)

	f := messaging.ConversationFilter{Status: messaging.StatusActive}
	first, err := uc.Execute(context.Background(), f)
	require.NoError(t, err)
	second, err := uc.Execute(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
	assert.Equal(t, 1, conversations.listCalls, "second read served from cache")

	uc.InvalidateLists(context.Background())
	_, err = uc.Execute(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 2, conversations.listCalls)
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	messages := &memMessageRepo{}
	_, _, err := messages.Append(context.Background(), messaging.Message{ConversationID: "c1", SenderID: "p1", Content: "mine"})
	require.NoError(t, err)
	_, _, err = messages.Append(context.Background(), messaging.Message{ConversationID: "c1", SenderID: "cl1", Content: "theirs"})
	require.NoError(t, err)

	uc := NewMarkReadUseCase(messages)
	n, err := uc.Execute(context.Background(), MarkReadInput{ConversationID: "c1", ReaderID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Re-reading changes nothing; the transition is one-way.
	n, err = uc.Execute(context.Background(), MarkReadInput{ConversationID: "c1", ReaderID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMarkReadValidatesInput(t *testing.T) {
	uc := NewMarkReadUseCase(&memMessageRepo{})
	_, err := uc.Execute(context.Background(), MarkReadInput{ConversationID: "c1"})
	var verr *messaging.ValidationError
	assert.ErrorAs(t, err, &verr)
}
