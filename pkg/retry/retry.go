// Package retry recovers optimistic-concurrency conflicts at the call
// boundary: mutate, and when the write lost the version race, refetch the
// authoritative state, wait briefly, rebind and try again within a bounded
// budget. The controller holds no state outside the call's own scope, so
// concurrent updates to different entities never interfere.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/tably/pkg/optimistic"
)

const (
	DefaultMaxRetries = 3
	DefaultDelay      = 100 * time.Millisecond
)

// Observer is invoked once per conflict before the refetch, for telemetry or
// user feedback. attempt counts from 1.
type Observer func(attempt int, conflict *optimistic.ConflictError)

type Options struct {
	// MaxRetries is the number of refetch-and-retry cycles after the first
	// attempt. Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int
	// Delay is the pause between attempts, cancellable through the context.
	Delay time.Duration
	// OnConflict observes each recovered conflict.
	OnConflict Observer
}

func (o Options) maxRetries() int {
	if o.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		return 0
	}
	return o.MaxRetries
}

func (o Options) delay() time.Duration {
	if o.Delay <= 0 {
		return DefaultDelay
	}
	return o.Delay
}

// ExhaustedError is the terminal failure after the retry budget is spent. It
// is deliberately distinct from ConflictError: errors.As on it does not yield
// a conflict, so callers surface "could not save, retry manually" instead of
// looping again.
type ExhaustedError struct {
	Attempts int
	Last     *optimistic.ConflictError
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("update failed after %d attempts: %v", e.Attempts, e.Last)
}

// Do runs mutate against state; on a version conflict it refetches the
// authoritative state and retries. Non-conflict errors from mutate or refetch
// propagate immediately. S is the refetched entity (carrying the current
// version), R the mutation result.
func Do[S, R any](
	ctx context.Context,
	opts Options,
	state S,
	mutate func(ctx context.Context, state S) (R, error),
	refetch func(ctx context.Context) (S, error),
) (R, error) {
	var zero R
	budget := opts.maxRetries()

	for attempt := 0; ; attempt++ {
		result, err := mutate(ctx, state)
		if err == nil {
			return result, nil
		}

		conflict, ok := optimistic.AsConflict(err)
		if !ok {
			return zero, err
		}
		if attempt >= budget {
			return zero, &ExhaustedError{Attempts: attempt + 1, Last: conflict}
		}

		if opts.OnConflict != nil {
			opts.OnConflict(attempt+1, conflict)
		}

		if err := sleep(ctx, opts.delay()); err != nil {
			return zero, err
		}

		state, err = refetch(ctx)
		if err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
