// Package apperr provides standardized domain error types for the application.
// Domain services return these typed errors, and the HTTP layer
// maps them to appropriate HTTP status codes and retry hints.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindValidation indicates malformed input (including lead attributes).
	KindValidation
	// KindConflict indicates an optimistic-write collision; reload and retry.
	KindConflict
	// KindForbidden indicates the action is not allowed for the caller.
	KindForbidden
	// KindUnauthorized indicates authentication is required or failed.
	KindUnauthorized
	// KindEntitlement indicates the tenant's plan does not include a feature.
	KindEntitlement
	// KindBudgetExceeded indicates the usage ledger refused the cost.
	KindBudgetExceeded
	// KindProviderTimeout indicates a transient upstream failure.
	KindProviderTimeout
	// KindProvider indicates a terminal upstream failure.
	KindProvider
	// KindRateLimited indicates the caller must back off until ResetAt.
	KindRateLimited
	// KindInternal indicates an unexpected internal error.
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNotFound:        "not_found",
	KindValidation:      "validation",
	KindConflict:        "conflict",
	KindForbidden:       "forbidden",
	KindUnauthorized:    "unauthorized",
	KindEntitlement:     "entitlement",
	KindBudgetExceeded:  "budget_exceeded",
	KindProviderTimeout: "provider_timeout",
	KindProvider:        "provider",
	KindRateLimited:     "rate_limited",
	KindInternal:        "internal",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string      // Operation that failed (optional)
	Err     error       // Underlying error (optional)
	Details interface{} // Additional details for response (optional)
	ResetAt *time.Time  // Set for rate limit errors
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same request later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConflict, KindProviderTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden, KindEntitlement:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBudgetExceeded:
		return http.StatusPaymentRequired
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindProvider:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the operation and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails sets additional details and returns the error.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Convenience constructors for common error types.

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Entitlement creates an entitlement error for a tenant feature.
func Entitlement(feature string) *Error {
	return New(KindEntitlement, fmt.Sprintf("feature %q is not available for this organization", feature)).
		WithDetails(map[string]string{"feature": feature})
}

// BudgetExceeded creates a budget error for a tenant feature.
func BudgetExceeded(feature string) *Error {
	return New(KindBudgetExceeded, fmt.Sprintf("enrichment budget exhausted for %q", feature)).
		WithDetails(map[string]string{"feature": feature})
}

// ProviderTimeout creates a transient provider error.
func ProviderTimeout(provider string, err error) *Error {
	return Wrap(KindProviderTimeout, fmt.Sprintf("provider %s timed out", provider), err)
}

// Provider creates a terminal provider error.
func Provider(provider string, err error) *Error {
	return Wrap(KindProvider, fmt.Sprintf("provider %s failed", provider), err)
}

// RateLimited creates a rate limit error that carries the window reset time.
func RateLimited(routeClass string, resetAt time.Time) *Error {
	e := New(KindRateLimited, "rate limit exceeded")
	e.ResetAt = &resetAt
	e.Details = map[string]interface{}{"routeClass": routeClass, "resetAt": resetAt.UTC()}
	return e
}

// Internal creates an internal server error.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// GetKind extracts the error kind from an error chain.
// Returns KindUnknown if no *Error is present.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err carries an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// IsRetryable reports whether err carries a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
