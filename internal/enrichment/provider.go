// Package enrichment fetches extra lead attributes from external providers
// and folds them into the snapshot under entitlement, budget and retry rules.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/apperr"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Provider names.
const (
	ProviderPlaces       = "places"
	ProviderMedia        = "media"
	ProviderCompetitors  = "competitors"
	ProviderTextAnalysis = "text_analysis"
)

const tracerName = "leadintel_backend/enrichment"

// Payload is what a provider returns: typed fields to merge and the raw
// response body kept for audit.
type Payload struct {
	Fields domain.Attributes
	Raw    []byte
}

// Provider fetches partial attributes for a lead.
type Provider interface {
	Name() string
	// Feature is the entitlement and ledger feature the call is billed under.
	Feature() string
	// Cost is the price of one call in cents.
	Cost() int64
	// Timeout bounds a single attempt.
	Timeout() time.Duration
	Fetch(ctx context.Context, attrs domain.Attributes) (Payload, error)
}

// httpError is a non-2xx upstream response.
type httpError struct {
	Provider string
	Status   int
	Body     string
}

func (e *httpError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Body)
}

// readError drains at most 512 bytes of an error body.
func readError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &httpError{Provider: provider, Status: resp.StatusCode, Body: string(body)}
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// IsTransient separates failures worth retrying (timeouts, resets, 5xx, 429)
// from terminal ones (4xx, validation, bad payloads).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if apperr.Is(err, apperr.KindProviderTimeout) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var he *httpError
	if errors.As(err, &he) {
		return transientStatus(he.Status)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.Code)
	}
	return false
}

// errorKindCanceled marks audit entries whose caller went away mid-call.
const errorKindCanceled = "canceled"

// errorKind names a failure for the audit trail.
func errorKind(err error, transient bool) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case apperr.Is(err, apperr.KindValidation):
		return "validation"
	}
	var he *httpError
	if errors.As(err, &he) {
		return fmt.Sprintf("http_%d", he.Status)
	}
	if transient {
		return "transient"
	}
	return "terminal"
}

// instrumented wraps a provider with an outbound rate limiter and a span.
type instrumented struct {
	Provider
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// Instrument limits calls to perSecond (burst of one, zero means unlimited)
// and traces each fetch.
func Instrument(p Provider, perSecond float64) Provider {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &instrumented{
		Provider: p,
		limiter:  rate.NewLimiter(limit, 1),
		tracer:   otel.Tracer(tracerName),
	}
}

func (p *instrumented) Fetch(ctx context.Context, attrs domain.Attributes) (Payload, error) {
	ctx, span := p.tracer.Start(ctx, "enrichment.fetch",
		trace.WithAttributes(attribute.String("provider", p.Name())),
	)
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met; treat it as a timeout.
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit wait")
		return Payload{}, err
	}

	out, err := p.Provider.Fetch(ctx, attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Payload{}, err
	}
	span.SetAttributes(attribute.Int("fields", len(out.Fields)))
	return out, nil
}
