// Package perr defines the pipeline's error taxonomy: a small set of error
// kinds carried on an *Error that supports errors.Is/errors.As, used
// across every component instead of an exception hierarchy.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for routing (exit codes, JSON-RPC error
// kinds, watcher poison decisions).
type Kind string

const (
	// KindInvalidInput covers schema validation, malformed JSON, and missing
	// required selector fields.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound covers a referenced file, mock, or remote resource that is
	// absent.
	KindNotFound Kind = "not_found"
	// KindUpstreamFailed covers an issue source returning an error (HTTP
	// non-2xx, network failure).
	KindUpstreamFailed Kind = "upstream_failed"
	// KindStageFailed covers a chat-endpoint call failing. Subkind further
	// distinguishes "transport", "timeout", or "unparsable".
	KindStageFailed Kind = "stage_failed"
	// KindPersistenceFailed covers a filesystem write or run-index insert
	// failing.
	KindPersistenceFailed Kind = "persistence_failed"
	// KindDegradedOutput is not a failure: it annotates that a stage fallback
	// was used in place of a parsed structured output.
	KindDegradedOutput Kind = "degraded_output"
)

const (
	SubkindTransport   = "transport"
	SubkindTimeout     = "timeout"
	SubkindUnparsable  = "unparsable"
)

// Error is the pipeline's wrapped error type. Stage, when non-empty,
// annotates which stage (PM/Dev/QA) produced the failure.
type Error struct {
	Kind    Kind
	Subkind string
	Stage   string
	Msg     string
	Err     error
}

// New constructs an Error with a kind and message, no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// WithStage annotates the error with the originating stage name.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithSubkind annotates the error with a finer-grained subkind, e.g.
// "timeout" or "transport" for a stage_failed error.
func (e *Error) WithSubkind(subkind string) *Error {
	e.Subkind = subkind
	return e
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Stage)
	}
	if e.Subkind != "" {
		prefix = fmt.Sprintf("%s/%s", prefix, e.Subkind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// KindOf returns the kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
