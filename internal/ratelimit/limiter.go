// Package ratelimit bounds operations per (identity, route class) with a
// fixed-window counter held in an injectable Store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"
)

// Route classes with independent budgets.
const (
	ClassAPI        = "api"
	ClassEnrichment = "enrichment"
	ClassGoals      = "goals"
)

// Decision is the result of Admit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// FailOpen is set when the store failed and the request was admitted anyway.
	FailOpen bool
}

// Store counts hits per key within a window. The first hit of a window
// starts the window; the key expires on its own when the window ends.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Limiter admits or denies operations.
type Limiter struct {
	store   Store
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter over store.
func New(store Store, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Limiter {
	l := &Limiter{store: store, log: log, metrics: m, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Nop()
	}
	return l
}

// Key builds the counter key for an identity and route class.
func Key(identity, routeClass string) string {
	return fmt.Sprintf("ratelimit:%s:%s", routeClass, identity)
}

// Admit counts one operation. Invalid limits are a validation error; a
// failing store admits the request and records the fail-open.
func (l *Limiter) Admit(ctx context.Context, identity, routeClass string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{}, apperr.Validation("rate limit must be positive")
	}
	if window <= 0 {
		return Decision{}, apperr.Validation("rate limit window must be positive")
	}

	count, resetAt, err := l.store.Increment(ctx, Key(identity, routeClass), window)
	if err != nil {
		l.log.RateLimitFailOpen(routeClass, err)
		l.metrics.RateLimitFailOpen(routeClass)
		l.metrics.RateLimitDecision(routeClass, true)
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - 1,
			ResetAt:   l.now().Add(window),
			FailOpen:  true,
		}, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	l.metrics.RateLimitDecision(routeClass, d.Allowed)
	if !d.Allowed {
		l.log.RateLimitExceeded(identity, routeClass, resetAt)
	}
	return d, nil
}
