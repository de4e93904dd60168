// Package errs defines the cross-cutting error taxonomy used by every
// sqlorch component. A single Kind enum lets callers at the CLI boundary
// classify a failure without type-switching on package-private error types.
package errs

import "fmt"

// Kind classifies an error into one of the taxonomy buckets from the
// error-handling design. The CLI boundary uses Kind to decide whether a
// run aborts (non-recoverable) or the failure is captured per-model and
// the run continues (recoverable).
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindParse               Kind = "parse"
	KindDependency          Kind = "dependency"
	KindConnection          Kind = "connection"
	KindTransientConnection Kind = "transient_connection"
	KindExecution           Kind = "execution"
	KindMaterialization     Kind = "materialization"
	KindState               Kind = "state"
	KindPlan                Kind = "plan"
	KindTest                Kind = "test"
	KindModelNotFound       Kind = "model_not_found"
)

// Recoverable reports whether an error of this kind, when raised for a
// single model during a run, should be captured in that model's result
// without aborting the rest of the run (fail_fast=false semantics).
func (k Kind) Recoverable() bool {
	switch k {
	case KindExecution, KindMaterialization, KindTest, KindTransientConnection:
		return true
	default:
		return false
	}
}

// Error is the shared error envelope. Model is empty for errors that are
// not scoped to a single model (e.g. KindConfiguration, circular
// dependency detection).
type Error struct {
	Kind  Kind
	Model string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Model != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Model, e.Msg, e.Cause)
		}
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Model, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no scoping model.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// ForModel builds an Error scoped to a single model.
func ForModel(kind Kind, model, msg string, cause error) *Error {
	return &Error{Kind: kind, Model: model, Msg: msg, Cause: cause}
}

// ModelNotFound is a convenience constructor for the ModelNotFound kind.
func ModelNotFound(model string) *Error {
	return &Error{Kind: KindModelNotFound, Model: model, Msg: "model not found"}
}

// CircularDependency carries the offending cycle path, e.g. [A, B, A].
type CircularDependency struct {
	Path []string
}

func (e *CircularDependency) Error() string {
	return fmt.Sprintf("%s: circular dependency: %v", KindDependency, e.Path)
}

// MaterializationError wraps a strategy-level failure with enough context
// to report the offending model and (for CDC) the chunk size in play.
type MaterializationError struct {
	Model     string
	Strategy  string
	ChunkSize int
	Cause     error
}

func (e *MaterializationError) Error() string {
	if e.ChunkSize > 0 {
		return fmt.Sprintf("%s [%s/%s]: chunk_size=%d: %v", KindMaterialization, e.Model, e.Strategy, e.ChunkSize, e.Cause)
	}
	return fmt.Sprintf("%s [%s/%s]: %v", KindMaterialization, e.Model, e.Strategy, e.Cause)
}

func (e *MaterializationError) Unwrap() error { return e.Cause }

// ErrKind satisfies a lightweight "kinded error" duck type used by the report
// package to classify errors without importing concrete error structs.
func (e *MaterializationError) ErrKind() Kind { return KindMaterialization }
func (e *CircularDependency) ErrKind() Kind   { return KindDependency }
func (e *Error) ErrKind() Kind                { return e.Kind }
