// Package httpkit provides HTTP response utilities.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"leadintel_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Kind      string      `json:"kind,omitempty"`
	Retryable bool        `json:"retryable"`
	Details   interface{} `json:"details,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// Error sends an error response with the given status code and message.
func Error(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

// OK sends a 200 OK response with the given payload.
func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// HandleError maps domain errors to HTTP responses.
// Typed *apperr.Error values carry their kind, retry hint and status;
// anything else is an internal error. Returns true if an error was handled.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		if domainErr.ResetAt != nil {
			SetRetryAfter(c, *domainErr.ResetAt, time.Now())
		}
		c.AbortWithStatusJSON(domainErr.HTTPStatus(), ErrorResponse{
			Error:     domainErr.Message,
			Kind:      domainErr.Kind.String(),
			Retryable: domainErr.Retryable(),
			Details:   domainErr.Details,
		})
		return true
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error: "internal error",
		Kind:  apperr.KindInternal.String(),
	})
	return true
}

// SetRetryAfter writes a Retry-After header in whole seconds, minimum one.
func SetRetryAfter(c *gin.Context, resetAt, now time.Time) {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
}
