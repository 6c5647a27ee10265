// Package pace provides the bounded cooperative waits used by every
// polling loop in the engine. No wait here can block indefinitely:
// sleeps honor context cancellation and polls carry an explicit budget.
package pace

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrBudgetExceeded is returned by Poll when the condition did not
// hold before the budget ran out. Callers map it to their stage's own
// failure classification.
var ErrBudgetExceeded = errors.New("poll budget exceeded")

// Sleep waits for d unless the context is canceled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll invokes fn immediately and then on every interval tick until fn
// reports done, fn returns an error, the budget elapses, or the context
// is canceled. A nil error from Poll means fn reported done.
func Poll(ctx context.Context, interval, budget time.Duration, fn func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(budget)

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrBudgetExceeded
		}

		remaining := time.Until(deadline)
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Jitter returns a random duration in the inclusive range
// [min, max], used to space keep-alive visits so they do not land on a
// fixed cadence. A nil rng seeds from the clock.
func Jitter(min, max time.Duration, rng *rand.Rand) (time.Duration, error) {
	if min < 0 || max < 0 {
		return 0, fmt.Errorf("jitter bounds cannot be negative")
	}
	if min > max {
		return 0, fmt.Errorf("jitter min cannot exceed max")
	}
	if min == max {
		return min, nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1)), nil
}
