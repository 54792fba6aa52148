// Package retry applies a bounded exponential backoff policy to any
// operation that can fail transiently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt failed with a retryable
// error. It matches both ErrRetriesExhausted and the last underlying error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %s", ErrRetriesExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

type Policy struct {
	// total attempts, including the first one
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// nil treats every error as retryable
	Retryable func(error) bool
	// called before each sleep; attempt is the 1-based attempt that failed
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (p Policy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = 2
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	return eb
}

// Do runs op until it succeeds, returns a non-retryable error, the context
// is done, or MaxAttempts is reached. Sleeps between attempts block the
// caller.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	permanent := false
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempts, err, wait)
			}
		}),
	)
	if err == nil {
		return res, nil
	}
	if permanent || ctx.Err() != nil || maxAttempts == 1 {
		return res, err
	}
	return res, &ExhaustedError{Attempts: attempts, Last: err}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
