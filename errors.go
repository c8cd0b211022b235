package docmate

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline. Callers check them with errors.Is.
var (
	// ErrInvalidDocument means the supplied text is not decodable.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrGenerationUnavailable means both generation providers were
	// exhausted. The pipeline never substitutes a default answer.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrBudgetExceeded means context assembly could not fit any content
	// into the configured budget.
	ErrBudgetExceeded = errors.New("context budget exceeded")

	// ErrSessionBusy means the session already has an in-flight question.
	// Concurrent questions on one session are rejected, not queued.
	ErrSessionBusy = errors.New("session busy")

	// ErrDocumentNotFound means the referenced document is not indexed.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNoRelevantContext means retrieval produced nothing above the
	// score threshold. It is a low-confidence signal, not a crash.
	ErrNoRelevantContext = errors.New("no relevant context found")
)

// ProviderErrorKind classifies an external provider failure.
type ProviderErrorKind int

const (
	// Transient failures (rate limits, timeouts) may be retried.
	Transient ProviderErrorKind = iota
	// Permanent failures (bad credentials, malformed requests) are not.
	Permanent
)

func (k ProviderErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// ProviderError wraps a failure from an embedding or generation provider.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a classified provider failure.
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// IsTransient reports whether err may succeed on retry. Timeouts count as
// transient even when not wrapped in a ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IndexInconsistencyError reports a mismatch between the chunk store and
// the vector entries for one document. It is isolated per document; other
// documents keep serving queries.
type IndexInconsistencyError struct {
	DocumentID string
	Reason     string
}

func (e *IndexInconsistencyError) Error() string {
	return fmt.Sprintf("index inconsistency for document %s: %s", e.DocumentID, e.Reason)
}

// Remedy returns a user-facing suggestion for a pipeline failure.
func Remedy(err error) string {
	var ie *IndexInconsistencyError
	switch {
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation services are unavailable; retry later"
	case errors.Is(err, ErrSessionBusy):
		return "a question is already in progress for this session; wait for it to finish"
	case errors.Is(err, ErrBudgetExceeded):
		return "retrieved passages exceed the context budget; ask a narrower question"
	case errors.Is(err, ErrNoRelevantContext):
		return "no matching passages found; rephrase the question or upload more material"
	case errors.Is(err, ErrInvalidDocument):
		return "the document text could not be decoded; re-export and upload again"
	case errors.Is(err, ErrDocumentNotFound):
		return "the document is not indexed; upload it first"
	case errors.As(err, &ie):
		return "the document index is being rebuilt; retry shortly"
	case IsTransient(err):
		return "temporary provider failure; retry"
	case err != nil:
		return "request failed; check provider configuration"
	default:
		return ""
	}
}
