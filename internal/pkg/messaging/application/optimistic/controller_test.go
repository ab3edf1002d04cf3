package optimistic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careline/internal/pkg/messaging/application/attachment"

	messaging "careline/internal/pkg/messaging/domain"
)

// fakeMessageRepo is an in-memory MessageRepository with controllable failure
// and a gate to hold Append mid-flight.
type fakeMessageRepo struct {
	mu          sync.Mutex
	seq         int
	appended    []messaging.Message
	attachments []messaging.Attachment

	appendErr error
	attachErr error
	gate      chan struct{} // when set, Append blocks until closed
	base      time.Time
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{base: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (r *fakeMessageRepo) Append(ctx context.Context, m messaging.Message) (string, time.Time, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return "", time.Time{}, r.appendErr
	}
	r.seq++
	id := fmt.Sprintf("srv-%d", r.seq)
	createdAt := r.base.Add(time.Duration(r.seq) * time.Second)
	m.ID = id
	m.CreatedAt = createdAt
	r.appended = append(r.appended, m)
	return id, createdAt, nil
}

func (r *fakeMessageRepo) History(ctx context.Context, conversationID string, limit, offset int) ([]messaging.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]messaging.Message, len(r.appended))
	copy(out, r.appended)
	return out, nil
}

func (r *fakeMessageRepo) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeMessageRepo) AddAttachment(ctx context.Context, a messaging.Attachment) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return "", r.attachErr
	}
	id := fmt.Sprintf("att-%d", len(r.attachments)+1)
	a.ID = id
	r.attachments = append(r.attachments, a)
	return id, nil
}

// fakeConversationRepo records last-message bumps.
type fakeConversationRepo struct {
	mu       sync.Mutex
	touched  []time.Time
	touchErr error
}

func (r *fakeConversationRepo) Create(ctx context.Context, c messaging.Conversation) (string, error) {
	return "c1", nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*messaging.Conversation, error) {
	return nil, messaging.ErrNotFound
}

func (r *fakeConversationRepo) List(ctx context.Context, f messaging.ConversationFilter) ([]messaging.Conversation, error) {
	return nil, nil
}

func (r *fakeConversationRepo) UpdateStatus(ctx context.Context, id string, status messaging.Status) error {
	return nil
}

func (r *fakeConversationRepo) UpdatePriority(ctx context.Context, id string, priority messaging.Priority) error {
	return nil
}

func (r *fakeConversationRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	return nil
}

func (r *fakeConversationRepo) UpdateAssignee(ctx context.Context, id string, assignee *string) error {
	return nil
}

func (r *fakeConversationRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	r.touched = append(r.touched, at)
	return nil
}

// fakeStorage fails uploads for names listed in failNames.
type fakeStorage struct {
	mu        sync.Mutex
	failNames map[string]bool
	puts      []string
}

func (s *fakeStorage) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.failNames {
		if strings.HasSuffix(path, name) {
			return "", errors.New("storage unavailable")
		}
	}
	s.puts = append(s.puts, path)
	return "mem://" + path, nil
}

func newTestController(t *testing.T, messages *fakeMessageRepo, conversations *fakeConversationRepo, storage *fakeStorage) *Controller {
	t.Helper()
	if storage == nil {
		storage = &fakeStorage{}
	}
	log := zerolog.Nop()
	return NewController(Config{
		ConversationID: "conv-1",
		Messages:       messages,
		Conversations:  conversations,
		Pipeline:       attachment.New(storage, messages, log, nil),
		Logger:         log,
		SettleTimeout:  2 * time.Second,
	})
}

func drainOneEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no settle event")
		return Event{}
	}
}

func TestSendAppearsImmediatelyAndConfirms(t *testing.T) {
	messages := newFakeMessageRepo()
	messages.gate = make(chan struct{})
	conversations := &fakeConversationRepo{}
	c := newTestController(t, messages, conversations, nil)

	entry, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "hello"})
	require.NoError(t, err)
	assert.True(t, entry.Pending)
	assert.NotEmpty(t, entry.TempID)

	// Visible before the store has confirmed anything.
	visible := c.Visible()
	require.Len(t, visible, 1)
	assert.True(t, visible[0].Pending)
	assert.Equal(t, "hello", visible[0].Content)

	close(messages.gate)
	ev := drainOneEvent(t, c)
	c.Wait()

	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Message)
	assert.Equal(t, entry.TempID, ev.TempID)
	assert.Equal(t, "srv-1", ev.Message.ID)

	visible = c.Visible()
	require.Len(t, visible, 1)
	assert.False(t, visible[0].Pending)
	assert.Equal(t, "srv-1", visible[0].Message.ID, "temp id replaced by the store-assigned id")

	// The conversation row was bumped with the store timestamp.
	require.Len(t, conversations.touched, 1)
	assert.Equal(t, ev.Message.CreatedAt, conversations.touched[0])
}

func TestSendAttachmentOnlyIsAccepted(t *testing.T) {
	messages := newFakeMessageRepo()
	c := newTestController(t, messages, &fakeConversationRepo{}, nil)

	entry, err := c.Send(SendInput{
		SenderID:   "u1",
		SenderType: messaging.SenderPatient,
		Content:    "",
		Files:      []attachment.File{{Name: "xray.png", ContentType: "image/png", Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Empty(t, entry.Content)

	ev := drainOneEvent(t, c)
	c.Wait()
	require.NoError(t, ev.Err)
	require.Len(t, ev.Message.Attachments, 1)
	assert.Equal(t, "xray.png", ev.Message.Attachments[0].FileName)
	assert.Equal(t, int64(3), ev.Message.Attachments[0].FileSize)
}

func TestSendRejectsEmptyContentWithoutFiles(t *testing.T) {
	c := newTestController(t, newFakeMessageRepo(), &fakeConversationRepo{}, nil)

	_, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "   "})
	var verr *messaging.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
	assert.Empty(t, c.Visible(), "nothing applied on validation failure")
}

func TestSendRejectsZeroByteFile(t *testing.T) {
	c := newTestController(t, newFakeMessageRepo(), &fakeConversationRepo{}, nil)

	_, err := c.Send(SendInput{
		SenderID:   "u1",
		SenderType: messaging.SenderPatient,
		Files:      []attachment.File{{Name: "empty.pdf"}},
	})
	var verr *messaging.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file_size", verr.Field)
}

func TestInsertFailureRollsBackToPriorState(t *testing.T) {
	messages := newFakeMessageRepo()
	messages.appendErr = errors.New("connection reset")
	c := newTestController(t, messages, &fakeConversationRepo{}, nil)

	// An already-confirmed message is the prior state.
	existing := messaging.Message{ID: "srv-0", ConversationID: "conv-1", SenderID: "u2", Content: "earlier", CreatedAt: time.Now().UTC()}
	c.Ingest(existing)

	_, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "will fail"})
	require.NoError(t, err, "failure surfaces on settle, not on send")

	ev := drainOneEvent(t, c)
	c.Wait()

	require.Error(t, ev.Err)
	assert.Nil(t, ev.Message)
	assert.True(t, messaging.IsRetryable(ev.Err))

	visible := c.Visible()
	require.Len(t, visible, 1, "provisional entry fully removed")
	assert.Equal(t, "srv-0", visible[0].Message.ID)
}

func TestPartialAttachmentFailureKeepsMessage(t *testing.T) {
	messages := newFakeMessageRepo()
	storage := &fakeStorage{failNames: map[string]bool{"broken.pdf": true}}
	c := newTestController(t, messages, &fakeConversationRepo{}, storage)

	_, err := c.Send(SendInput{
		SenderID:   "u1",
		SenderType: messaging.SenderClinic,
		Content:    "treatment plan",
		Files: []attachment.File{
			{Name: "plan.pdf", ContentType: "application/pdf", Data: []byte("ok")},
			{Name: "broken.pdf", ContentType: "application/pdf", Data: []byte("xx")},
		},
	})
	require.NoError(t, err)

	ev := drainOneEvent(t, c)
	c.Wait()

	require.NotNil(t, ev.Message, "message survives attachment failure")
	var pf *messaging.PartialFailure
	require.ErrorAs(t, ev.Err, &pf)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, "broken.pdf", pf.Failed[0].FileName)

	visible := c.Visible()
	require.Len(t, visible, 1)
	assert.False(t, visible[0].Pending)
	require.Len(t, visible[0].Message.Attachments, 1)
	assert.Equal(t, "plan.pdf", visible[0].Message.Attachments[0].FileName)
	require.Len(t, visible[0].FailedFiles, 1)
}

func TestReconcileIsIdempotent(t *testing.T) {
	messages := newFakeMessageRepo()
	c := newTestController(t, messages, &fakeConversationRepo{}, nil)

	entry, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "once"})
	require.NoError(t, err)
	drainOneEvent(t, c)
	c.Wait()

	visible := c.Visible()
	require.Len(t, visible, 1)
	durable := visible[0].Message

	// Replaying the reconciliation must not duplicate the entry.
	assert.False(t, c.Reconcile(entry.TempID, durable, nil))
	assert.Len(t, c.Visible(), 1)
}

func TestReconcileMatchesByTempIDNotContent(t *testing.T) {
	messages := newFakeMessageRepo()
	messages.gate = make(chan struct{})
	c := newTestController(t, messages, &fakeConversationRepo{}, nil)

	// Two pending sends with identical content.
	first, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "same text"})
	require.NoError(t, err)
	second, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "same text"})
	require.NoError(t, err)
	require.NotEqual(t, first.TempID, second.TempID)

	close(messages.gate)
	drainOneEvent(t, c)
	drainOneEvent(t, c)
	c.Wait()

	visible := c.Visible()
	require.Len(t, visible, 2, "identical content never merges entries")
	assert.NotEqual(t, visible[0].Message.ID, visible[1].Message.ID)
	for _, e := range visible {
		assert.False(t, e.Pending)
	}
}

func TestPendingEntriesRenderAfterConfirmed(t *testing.T) {
	messages := newFakeMessageRepo()
	messages.gate = make(chan struct{})
	c := newTestController(t, messages, &fakeConversationRepo{}, nil)

	_, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "pending"})
	require.NoError(t, err)

	// A confirmed message arrives from the subscription while the send is in flight.
	c.Ingest(messaging.Message{ID: "srv-9", ConversationID: "conv-1", SenderID: "u2", Content: "from peer", CreatedAt: time.Now().UTC().Add(time.Hour)})

	visible := c.Visible()
	require.Len(t, visible, 2)
	assert.False(t, visible[0].Pending, "confirmed first")
	assert.True(t, visible[1].Pending, "provisional last regardless of timestamps")

	close(messages.gate)
	drainOneEvent(t, c)
	c.Wait()

	// After confirmation the store timestamps decide the order.
	visible = c.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "srv-1", visible[0].Message.ID)
	assert.Equal(t, "srv-9", visible[1].Message.ID)
}

func TestIngestDropsDuplicatesByID(t *testing.T) {
	c := newTestController(t, newFakeMessageRepo(), &fakeConversationRepo{}, nil)

	m := messaging.Message{ID: "srv-5", ConversationID: "conv-1", SenderID: "u2", Content: "hi", CreatedAt: time.Now().UTC()}
	c.Ingest(m)
	c.Ingest(m)

	assert.Len(t, c.Visible(), 1)
}

func TestReconcileDropsProvisionalWhenDurableAlreadyIngested(t *testing.T) {
	messages := newFakeMessageRepo()
	messages.gate = make(chan struct{})
	c := newTestController(t, messages, &fakeConversationRepo{}, nil)

	_, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "hello"})
	require.NoError(t, err)

	// The subscription delivers the durable copy before the send's own
	// reconciliation runs, e.g. the sender on a second device.
	c.Ingest(messaging.Message{ID: "srv-1", ConversationID: "conv-1", SenderID: "u1", Content: "hello", CreatedAt: messages.base.Add(time.Second)})

	close(messages.gate)
	drainOneEvent(t, c)
	c.Wait()

	visible := c.Visible()
	require.Len(t, visible, 1, "no stranded provisional entry")
	assert.Equal(t, "srv-1", visible[0].Message.ID)
	assert.False(t, visible[0].Pending)
}

func TestLastMessageBumpFailureDoesNotRollBack(t *testing.T) {
	messages := newFakeMessageRepo()
	conversations := &fakeConversationRepo{touchErr: errors.New("deadlock")}
	c := newTestController(t, messages, conversations, nil)

	_, err := c.Send(SendInput{SenderID: "u1", SenderType: messaging.SenderPatient, Content: "still lands"})
	require.NoError(t, err)

	ev := drainOneEvent(t, c)
	c.Wait()

	require.NoError(t, ev.Err)
	visible := c.Visible()
	require.Len(t, visible, 1)
	assert.False(t, visible[0].Pending)
}
