// Package deadline bounds calls to external collaborators (the mailbox
// and the language model) by wall-clock time.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks an external call that ran past its wall-clock limit.
// The wrapping error names the operation, and so the collaborator.
var ErrTimeout = errors.New("timed out")

// Call runs fn and races it against a timer. If the timer wins, fn's
// context is cancelled and an error wrapping ErrTimeout is returned
// without waiting for fn to notice. A non-positive timeout disables the
// timer.
func Call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%s %w after %s", op, ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
