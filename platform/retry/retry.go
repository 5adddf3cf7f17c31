// Package retry runs an operation under a timeout and a bounded retry policy
// and reports a tagged outcome instead of a bare error.
// This is part of the platform layer and contains no business logic.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// OutcomeKind tags how a bounded operation ended.
type OutcomeKind int

const (
	// Success means the operation returned without error.
	Success OutcomeKind = iota
	// Transient means every attempt failed with a retryable error.
	Transient
	// Terminal means an attempt failed with a non-retryable error.
	Terminal
	// Canceled means the caller's context ended before the operation finished.
	Canceled
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Policy bounds a single operation.
type Policy struct {
	// Timeout applies to each attempt separately. Zero disables it.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the first backoff delay; later delays double.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff delay. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy matches the enrichment defaults: 20s per attempt, two retries.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:    20 * time.Second,
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Outcome is the tagged result of Run.
type Outcome[T any] struct {
	Value    T
	Kind     OutcomeKind
	Attempts int
	Err      error
}

// OK reports whether the operation succeeded.
func (o Outcome[T]) OK() bool { return o.Kind == Success }

// Run executes op until it succeeds, fails terminally, exhausts the policy or
// ctx ends. A nil classifier treats every error as terminal.
func Run[T any](ctx context.Context, policy Policy, classify Classifier, op func(ctx context.Context) (T, error)) Outcome[T] {
	var (
		value    T
		attempts int
	)

	base := policy.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	backoff := goretry.NewExponential(base)
	if policy.MaxDelay > 0 {
		backoff = goretry.WithCappedDuration(policy.MaxDelay, backoff)
	}
	backoff = goretry.WithMaxRetries(uint64(maxRetries), backoff)

	transient := false
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		attemptCtx := ctx
		cancel := func() {}
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		defer cancel()

		v, err := op(attemptCtx)
		if err == nil {
			value = v
			return nil
		}
		// The caller gave up; never retry past its deadline.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if classify != nil && (classify(err) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded)) {
			transient = true
			return goretry.RetryableError(err)
		}
		transient = false
		return err
	})

	switch {
	case err == nil:
		return Outcome[T]{Value: value, Kind: Success, Attempts: attempts}
	case ctx.Err() != nil:
		return Outcome[T]{Kind: Canceled, Attempts: attempts, Err: ctx.Err()}
	case transient:
		return Outcome[T]{Kind: Transient, Attempts: attempts, Err: err}
	default:
		return Outcome[T]{Kind: Terminal, Attempts: attempts, Err: err}
	}
}
