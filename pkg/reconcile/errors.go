package reconcile

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds the reconciliation service's public
// operations report.
type Kind string

const (
	// KindInvalidQuery covers a missing/empty mention, an unknown property,
	// a malformed property value, or an out-of-range limit.
	KindInvalidQuery Kind = "invalid_query"

	// KindUnknownEntityType covers a query naming an unregistered entity type.
	KindUnknownEntityType Kind = "unknown_entity_type"

	// KindNotFound covers preview/get_by_id for an id with no matching row.
	KindNotFound Kind = "not_found"

	// KindMalformedID covers an id that is neither a valid canonical URI nor
	// a parseable bare integer.
	KindMalformedID Kind = "malformed_id"

	// KindOverloaded covers resource exhaustion (connection pool, queue).
	// Retryable by the caller.
	KindOverloaded Kind = "overloaded"

	// KindInternal covers invariant violations, e.g. a channel label
	// disagreement or a programming error surfaced at request time.
	KindInternal Kind = "internal"
)

// Error is the typed error every reconcile.Service operation returns for a
// recognized failure mode. EmbeddingUnavailable and LLMUnavailable are
// deliberately absent: both are recoverable degradations handled inline by
// the search/rerank call sites and never surfaced as an Error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconcile: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("reconcile: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, &reconcile.Error{Kind: reconcile.KindNotFound}).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the [Kind] of err if it is (or wraps) a [*Error], and
// KindInternal otherwise — any error reaching the service boundary without a
// recognized kind is, by definition, an unhandled invariant violation.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
