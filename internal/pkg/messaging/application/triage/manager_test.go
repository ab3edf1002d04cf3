package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	messaging "careline/internal/pkg/messaging/domain"
)

// fakeTriageRepo records field writes in completion order. Hooks let tests
// hold individual writes to force a specific landing order.
type fakeTriageRepo struct {
	mu         sync.Mutex
	stored     messaging.Conversation
	priorities []messaging.Priority
	statuses   []messaging.Status

	statusErr      error
	beforePriority func(p messaging.Priority)
	afterPriority  func(p messaging.Priority)
}

func (r *fakeTriageRepo) Create(ctx context.Context, c messaging.Conversation) (string, error) {
	return c.ID, nil
}

func (r *fakeTriageRepo) GetByID(ctx context.Context, id string) (*messaging.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stored.ID != id {
		return nil, messaging.ErrNotFound
	}
	cp := r.stored
	return &cp, nil
}

func (r *fakeTriageRepo) List(ctx context.Context, f messaging.ConversationFilter) ([]messaging.Conversation, error) {
	return nil, nil
}

func (r *fakeTriageRepo) UpdateStatus(ctx context.Context, id string, status messaging.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusErr != nil {
		return r.statusErr
	}
	r.stored.Status = status
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeTriageRepo) UpdatePriority(ctx context.Context, id string, priority messaging.Priority) error {
	if r.beforePriority != nil {
		r.beforePriority(priority)
	}
	r.mu.Lock()
	r.stored.Priority = priority
	r.priorities = append(r.priorities, priority)
	r.mu.Unlock()
	if r.afterPriority != nil {
		r.afterPriority(priority)
	}
	return nil
}

func (r *fakeTriageRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored.Tags = tags
	return nil
}

func (r *fakeTriageRepo) UpdateAssignee(ctx context.Context, id string, assignee *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored.AssignedTo = assignee
	return nil
}

func (r *fakeTriageRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	return nil
}

func newTestManager(t *testing.T, repo *fakeTriageRepo) *Manager {
	t.Helper()
	return NewManager(Config{
		Conversations: repo,
		Logger:        zerolog.Nop(),
		UpdateTimeout: 2 * time.Second,
	})
}

func trackedConversation() messaging.Conversation {
	return messaging.Conversation{
		ID:       "c1",
		Subject:  "Knee surgery follow-up",
		Status:   messaging.StatusActive,
		Priority: messaging.PriorityNormal,
	}
}

func drainTriageEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no settle event")
		return Event{}
	}
}

func TestUpdateStatusAppliesLocallyBeforeDurableWrite(t *testing.T) {
	repo := &fakeTriageRepo{stored: trackedConversation()}
	m := newTestManager(t, repo)
	m.Track(trackedConversation())

	require.NoError(t, m.UpdateStatus("c1", messaging.StatusResolved, "admin-1"))

	// Local view reflects the edit immediately.
	local, ok := m.Get("c1")
	require.True(t, ok)
	assert.Equal(t, messaging.StatusResolved, local.Status)

	ev := drainTriageEvent(t, m)
	m.Wait()
	require.NoError(t, ev.Err)
	assert.Equal(t, FieldStatus, ev.Field)
	assert.Equal(t, messaging.StatusResolved, repo.stored.Status)
}

func TestUpdateStatusRevertsOnStoreFailure(t *testing.T) {
	repo := &fakeTriageRepo{stored: trackedConversation(), statusErr: errors.New("timeout")}
	m := newTestManager(t, repo)
	m.Track(trackedConversation())

	require.NoError(t, m.UpdateStatus("c1", messaging.StatusArchived, "admin-1"))

	ev := drainTriageEvent(t, m)
	m.Wait()

	require.Error(t, ev.Err)
	assert.True(t, messaging.IsRetryable(ev.Err))

	local, ok := m.Get("c1")
	require.True(t, ok)
	assert.Equal(t, messaging.StatusActive, local.Status, "field reverted to prior value")
	assert.Equal(t, messaging.StatusActive, repo.stored.Status)
}

func TestConcurrentPriorityEditsLastWriterWins(t *testing.T) {
	repo := &fakeTriageRepo{stored: trackedConversation()}

	// Hold the first writer's durable write until the second has landed.
	urgentGate := make(chan struct{})
	lowLanded := make(chan struct{})
	repo.beforePriority = func(p messaging.Priority) {
		if p == messaging.PriorityUrgent {
			<-urgentGate
		}
	}
	repo.afterPriority = func(p messaging.Priority) {
		if p == messaging.PriorityLow {
			close(lowLanded)
		}
	}

	m := newTestManager(t, repo)
	m.Track(trackedConversation())

	require.NoError(t, m.UpdatePriority("c1", messaging.PriorityUrgent, "admin-a"))
	require.NoError(t, m.UpdatePriority("c1", messaging.PriorityLow, "admin-b"))

	<-lowLanded
	close(urgentGate)

	ev1 := drainTriageEvent(t, m)
	ev2 := drainTriageEvent(t, m)
	m.Wait()

	// Neither edit errors; the race resolves silently.
	assert.NoError(t, ev1.Err)
	assert.NoError(t, ev2.Err)

	repo.mu.Lock()
	landed := append([]messaging.Priority(nil), repo.priorities...)
	final := repo.stored.Priority
	repo.mu.Unlock()

	require.Len(t, landed, 2)
	assert.Equal(t, messaging.PriorityUrgent, landed[1], "held write lands last")
	assert.Equal(t, messaging.PriorityUrgent, final, "store keeps whichever write landed last")
}

func TestUpdateTagsNormalizesBeforeWrite(t *testing.T) {
	repo := &fakeTriageRepo{stored: trackedConversation()}
	m := newTestManager(t, repo)
	m.Track(trackedConversation())

	require.NoError(t, m.UpdateTags("c1", []string{" VIP ", "billing", "vip"}, "admin-1"))
	drainTriageEvent(t, m)
	m.Wait()

	assert.Equal(t, []string{"billing", "vip"}, repo.stored.Tags)

	local, _ := m.Get("c1")
	assert.Equal(t, []string{"billing", "vip"}, local.Tags)
}

func TestUpdateAssigneeNilUnassigns(t *testing.T) {
	tracked := trackedConversation()
	who := "staff-3"
	tracked.AssignedTo = &who
	repo := &fakeTriageRepo{stored: tracked}
	m := newTestManager(t, repo)
	m.Track(tracked)

	require.NoError(t, m.UpdateAssignee("c1", nil, "admin-1"))
	drainTriageEvent(t, m)
	m.Wait()

	assert.Nil(t, repo.stored.AssignedTo)
	local, _ := m.Get("c1")
	assert.Nil(t, local.AssignedTo)
}

func TestUpdateRejectsInvalidEnumWithoutTouchingState(t *testing.T) {
	repo := &fakeTriageRepo{stored: trackedConversation()}
	m := newTestManager(t, repo)
	m.Track(trackedConversation())

	var verr *messaging.ValidationError
	require.ErrorAs(t, m.UpdateStatus("c1", "open", "admin-1"), &verr)

	local, _ := m.Get("c1")
	assert.Equal(t, messaging.StatusActive, local.Status)
}

func TestUpdateUnknownConversationReturnsNotFound(t *testing.T) {
	m := newTestManager(t, &fakeTriageRepo{stored: trackedConversation()})

	err := m.UpdateStatus("missing", messaging.StatusResolved, "admin-1")
	assert.ErrorIs(t, err, messaging.ErrNotFound)
}

func TestLoadHydratesLocalView(t *testing.T) {
	repo := &fakeTriageRepo{stored: trackedConversation()}
	m := newTestManager(t, repo)

	c, err := m.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Knee surgery follow-up", c.Subject)

	_, ok := m.Get("c1")
	assert.True(t, ok)
}
