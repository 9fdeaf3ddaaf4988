package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Kind classifies where in the pipeline an error originated
type Kind string

const (
	KindPrepare         Kind = "PrepareError"
	KindResearchSection Kind = "ResearchSectionError"
	KindEdit            Kind = "EditError"
	KindPublish         Kind = "PublishError"
	KindValidation      Kind = "ValidationError"
	KindNotFound        Kind = "NotFoundError"
	KindOrchestration   Kind = "OrchestrationError"
)

const (
	// Validation Errors (1xxx)
	CodeInvalidInput     = "RP-1001" // Invalid request body or parameters
	CodeMissingRequired  = "RP-1002" // Missing required field
	CodeMissingPrereq    = "RP-1003" // Task lacks a prerequisite for the operation
	CodeResourceNotFound = "RP-1404" // Unknown task id

	// Phase Errors (2xxx)
	CodeAnalyzeFailed  = "RP-2001" // Analyze phase failed
	CodeOutlineFailed  = "RP-2002" // Outline phase failed
	CodeSectionFailed  = "RP-2003" // One section could not be researched
	CodeEditFailed     = "RP-2004" // Edit phase failed
	CodePublishFailed  = "RP-2005" // Publishing the document failed
	CodeProviderFailed = "RP-2006" // LLM/search provider call failed

	// System Errors (5xxx)
	CodeInternal          = "RP-5001" // Unexpected internal error
	CodeInvalidTransition = "RP-5002" // Illegal status transition
	CodePanic             = "RP-5004" // Panic recovery
)

// Error is a pipeline error carrying a kind, a stable code and structured details
type Error struct {
	Code          string            `json:"code"`
	Kind          Kind              `json:"kind"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Retryable     bool              `json:"retryable"`
	CorrelationID string            `json:"correlation_id"`
	cause         error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail adds a detail entry to the error
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// ToJSON serializes the error to JSON
func (e *Error) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(kind Kind, code, message string) *Error {
	return &Error{
		Code:          code,
		Kind:          kind,
		Message:       message,
		Timestamp:     time.Now(),
		Retryable:     isRetryableCode(code),
		CorrelationID: uuid.New().String(),
	}
}

// Wrap wraps an existing error. The raw error text is kept under the "error" detail.
func Wrap(err error, kind Kind, code, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(kind, code, message)
	e.cause = err
	e.WithDetail("error", err.Error())
	return e
}

// Validation creates a ValidationError
func Validation(message string) *Error {
	return New(KindValidation, CodeMissingPrereq, message)
}

// NotFound creates a NotFoundError for the given resource id
func NotFound(resource, id string) *Error {
	return New(KindNotFound, CodeResourceNotFound, fmt.Sprintf("%s %s not found", resource, id)).
		WithDetail("id", id)
}

// ProviderHTTP describes a non-2xx response from an external provider.
// Rate limiting and server errors are retryable.
func ProviderHTTP(provider string, status int, body string) *Error {
	if len(body) > 200 {
		body = body[:200]
	}
	e := New(KindOrchestration, CodeProviderFailed, fmt.Sprintf("%s http %d", provider, status)).
		WithDetail("provider", provider).
		WithDetail("body", body)
	e.Retryable = status == http.StatusTooManyRequests || status >= 500
	return e
}

// As returns the pipeline error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// AsType finds the first error in err's chain that matches target.
func AsType(err error, target any) bool {
	return stderrors.As(err, target)
}

// KindOf returns the kind of err, or OrchestrationError for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindOrchestration
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// HTTPStatus maps an error to the HTTP status code surfaced to clients
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// isRetryableCode determines if an error code is retryable
func isRetryableCode(code string) bool {
	switch code {
	case CodeProviderFailed, CodePublishFailed:
		return true
	default:
		return false
	}
}
