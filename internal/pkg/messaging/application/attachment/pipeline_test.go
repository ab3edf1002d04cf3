package attachment

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

type stubStorage struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (s *stubStorage) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, path)
	return "mem://" + path, nil
}

type stubAttachmentRepo struct {
	mu        sync.Mutex
	committed []messaging.Attachment
	err       error
}

func (r *stubAttachmentRepo) Append(ctx context.Context, m messaging.Message) (string, time.Time, error) {
	return "", time.Time{}, errors.New("not used")
}

func (r *stubAttachmentRepo) History(ctx context.Context, conversationID string, limit, offset int) ([]messaging.Message, error) {
	return nil, nil
}

func (r *stubAttachmentRepo) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	return 0, nil
}

func (r *stubAttachmentRepo) AddAttachment(ctx context.Context, a messaging.Attachment) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	a.ID = "att-1"
	r.committed = append(r.committed, a)
	return a.ID, nil
}

func testFile() File {
	return File{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte("pdf bytes")}
}

func TestUploadRunsBothPhases(t *testing.T) {
	storage := &stubStorage{}
	repo := &stubAttachmentRepo{}
	p := New(storage, repo, zerolog.Nop(), nil)

	a, err := p.Upload(context.Background(), "conv-1", "msg-1", testFile())
	require.NoError(t, err)

	assert.Equal(t, "att-1", a.ID)
	assert.Equal(t, "msg-1", a.MessageID)
	assert.Equal(t, "mem://conv-1/msg-1/scan.pdf", a.FileURL)
	assert.Equal(t, int64(len("pdf bytes")), a.FileSize)

	require.Len(t, storage.puts, 1)
	require.Len(t, repo.committed, 1)
}

func TestUploadRejectsZeroByteFile(t *testing.T) {
	storage := &stubStorage{}
	p := New(storage, &stubAttachmentRepo{}, zerolog.Nop(), nil)

	_, err := p.Upload(context.Background(), "conv-1", "msg-1", File{Name: "empty.pdf"})
	var verr *messaging.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file_size", verr.Field)
	assert.Empty(t, storage.puts, "nothing reached storage")
}

func TestUploadRequiresDurableIDs(t *testing.T) {
	p := New(&stubStorage{}, &stubAttachmentRepo{}, zerolog.Nop(), nil)

	_, err := p.Upload(context.Background(), "conv-1", "", testFile())
	var verr *messaging.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPhaseOneFailureSkipsCommit(t *testing.T) {
	storage := &stubStorage{err: errors.New("bucket unavailable")}
	repo := &stubAttachmentRepo{}
	p := New(storage, repo, zerolog.Nop(), nil)

	_, err := p.Upload(context.Background(), "conv-1", "msg-1", testFile())
	require.Error(t, err)
	assert.True(t, messaging.IsRetryable(err))
	assert.Empty(t, repo.committed, "metadata never committed without a blob")
}

func TestPhaseTwoFailureLeavesBlobOrphaned(t *testing.T) {
	storage := &stubStorage{}
	repo := &stubAttachmentRepo{err: errors.New("insert failed")}
	p := New(storage, repo, zerolog.Nop(), nil)

	_, err := p.Upload(context.Background(), "conv-1", "msg-1", testFile())
	require.Error(t, err)
	assert.True(t, messaging.IsRetryable(err))
	assert.Len(t, storage.puts, 1, "the blob stays; orphans are accepted")
}
