// Package rfcerrors provides the standardized error taxonomy for the
// retrieval and fusion pipeline. Non-fatal kinds degrade into an envelope
// with a rationale; only sanity failures and cancellation propagate.
package rfcerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents semantic error codes for consistent handling
type Code string

const (
	// CodeProvenanceAmbiguity marks recoverable provenance inference gaps;
	// the enforcer records fallback markers and continues
	CodeProvenanceAmbiguity Code = "PROVENANCE_AMBIGUITY"
	// CodeStoreUnavailable means the memory store could not be reached
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	// CodeEmbeddingFailure means an embedding could not be generated
	CodeEmbeddingFailure Code = "EMBEDDING_FAILURE"
	// CodeSanityFailure marks a fatal backend sanity violation (zero
	// vectors, hash-only backend in pilot mode)
	CodeSanityFailure Code = "SANITY_FAILURE"
	// CodeBoundsViolation marks an internal invariant breach; logged
	// critical and clamped, never propagated
	CodeBoundsViolation Code = "BOUNDS_VIOLATION"
	// CodeCancelled means the query was cancelled by the caller
	CodeCancelled Code = "CANCELLED"
	// CodeOverloaded means backpressure rejected the query
	CodeOverloaded Code = "OVERLOADED"
	// CodeValidation marks invalid input at an API boundary
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeInternal is the fallback for unexpected failures
	CodeInternal Code = "INTERNAL_ERROR"
)

// PipelineError is the unified error type carried through the pipeline
type PipelineError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause
func (e *PipelineError) Unwrap() error { return e.Err }

// Fatal reports whether the error must propagate to the orchestrator's
// caller instead of degrading into an envelope.
func (e *PipelineError) Fatal() bool {
	return e.Code == CodeSanityFailure
}

// HTTPStatus maps the error code to an HTTP status for the API shell
func (e *PipelineError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeOverloaded:
		return http.StatusTooManyRequests
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// New creates a pipeline error with a code and message
func New(code Code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// Wrap creates a pipeline error wrapping a cause
func Wrap(code Code, message string, err error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Err: err}
}

// StoreUnavailable wraps a store failure
func StoreUnavailable(err error) *PipelineError {
	return Wrap(CodeStoreUnavailable, "memory store unavailable", err)
}

// EmbeddingFailure wraps an embedding backend failure
func EmbeddingFailure(err error) *PipelineError {
	return Wrap(CodeEmbeddingFailure, "embedding generation failed", err)
}

// SanityFailure creates a fatal sanity error
func SanityFailure(message string) *PipelineError {
	return New(CodeSanityFailure, message)
}

// Overloaded creates a backpressure rejection
func Overloaded() *PipelineError {
	return New(CodeOverloaded, "request queue depth exceeded")
}

// CodeOf extracts the error code, or CodeInternal for foreign errors
func CodeOf(err error) Code {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// IsFatal reports whether err must propagate rather than degrade
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Fatal()
	}
	return false
}
