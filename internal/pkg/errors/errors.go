package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalid           = errors.New("invalid")
	ErrConflict          = errors.New("conflict")
	ErrTooMany           = errors.New("too many requests")
	ErrInternal          = errors.New("internal")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexCorrupt      = errors.New("index corrupt")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrMetricMismatch    = errors.New("index metric mismatch")
)

// EmbeddingError reports a failed call to the embedding provider. Retryable is
// set for rate limiting, server side failures and deadline expiry; callers
// decide whether to retry.
type EmbeddingError struct {
	Retryable bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("embedding failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("answer synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// IngestionError wraps any failure while adding a document. Stage names the
// pipeline step that failed.
type IngestionError struct {
	SourceID string
	Stage    string
	Err      error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %q failed at %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsRetryable(err error) bool {
	var embedErr *EmbeddingError
	if errors.As(err, &embedErr) {
		return embedErr.Retryable
	}
	return false
}
