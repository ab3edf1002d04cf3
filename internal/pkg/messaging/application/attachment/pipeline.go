// Package attachment implements the two-phase upload pipeline: the binary
// goes to object storage first, then the metadata row is committed. A blob
// whose metadata commit failed is an orphan; garbage collection is out of scope.
package attachment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	storageport "careline/internal/infrastructure/storage/port"
	"careline/internal/metrics"
	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// File is an upload candidate.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Validate rejects files that must never reach the network.
func (f File) Validate() error {
	if f.Name == "" {
		return &messaging.ValidationError{Field: "file_name", Reason: "file name is required"}
	}
	if len(f.Data) == 0 {
		return &messaging.ValidationError{Field: "file_size", Reason: "zero-byte file"}
	}
	return nil
}

// Pipeline uploads attachment binaries and commits their metadata.
type Pipeline struct {
	storage  storageport.ObjectStorage
	messages repository.MessageRepository
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// New constructs a Pipeline. metrics may be nil.
func New(storage storageport.ObjectStorage, messages repository.MessageRepository, log zerolog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		storage:  storage,
		messages: messages,
		log:      log.With().Str("component", "attachment").Logger(),
		metrics:  m,
	}
}

// Upload runs both phases for one file against a durable message id and
// returns the committed attachment. Phase 1 must succeed before phase 2 is
// attempted; a phase-2 failure leaves the blob orphaned, which is accepted.
func (p *Pipeline) Upload(ctx context.Context, conversationID, messageID string, f File) (*messaging.Attachment, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if conversationID == "" || messageID == "" {
		return nil, &messaging.ValidationError{Field: "path", Reason: "conversation and message ids are required"}
	}

	path := fmt.Sprintf("%s/%s/%s", conversationID, messageID, f.Name)

	url, err := p.storage.Put(ctx, path, f.Data, f.ContentType)
	if err != nil {
		p.fail()
		return nil, &messaging.TransportError{Op: "attachment upload", Err: err}
	}

	a, err := messaging.NewAttachment(messaging.Attachment{
		MessageID: messageID,
		FileName:  f.Name,
		FileURL:   url,
		FileType:  f.ContentType,
		FileSize:  int64(len(f.Data)),
	})
	if err != nil {
		p.fail()
		return nil, err
	}

	id, err := p.messages.AddAttachment(ctx, *a)
	if err != nil {
		p.fail()
		p.log.Warn().Err(err).Str("path", path).Msg("metadata commit failed, blob orphaned")
		return nil, &messaging.TransportError{Op: "attachment commit", Err: err}
	}
	a.ID = id

	if p.metrics != nil {
		p.metrics.AttachmentsUploaded.Inc()
	}
	return a, nil
}

func (p *Pipeline) fail() {
	if p.metrics != nil {
		p.metrics.AttachmentsFailed.Inc()
	}
}
