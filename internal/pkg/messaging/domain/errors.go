package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound signals that a conversation or message does not exist.
var ErrNotFound = errors.New("messaging: not found")

// ValidationError rejects bad input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("messaging: invalid %s: %s", e.Field, e.Reason)
}

// TransportError wraps a store or network failure. It is retryable and always
// triggers a full rollback of the optimistic state it caused.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("messaging: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the failed operation may be retried as-is.
func (e *TransportError) Retryable() bool { return true }

// IsRetryable reports whether err (or anything it wraps) is a TransportError.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AttachmentFailure records a single failed upload inside a partial failure.
type AttachmentFailure struct {
	FileName string
	Err      error
}

// PartialFailure reports a send whose message insert succeeded while one or
// more attachment uploads failed. The message is retained; the failed files
// are reported individually.
type PartialFailure struct {
	MessageID string
	Failed    []AttachmentFailure
}

func (e *PartialFailure) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.FileName)
	}
	return fmt.Sprintf("messaging: message %s sent, attachments failed: %s",
		e.MessageID, strings.Join(names, ", "))
}
