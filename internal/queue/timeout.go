package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const defaultAttemptTimeout = 120 * time.Second

// TimeoutGuard bounds how long the scheduler waits on one attempt. It does
// not stop the executor: an abandoned call keeps running and its result is
// dropped.
type TimeoutGuard struct {
	Timeout time.Duration
}

type attemptOutcome struct {
	result models.Result
	err    error
}

// Run calls fn with a context that expires after the guard's timeout.
func (g TimeoutGuard) Run(ctx context.Context, fn func(ctx context.Context) (models.Result, error)) (models.Result, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned attempt can still deliver and exit.
	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in executor", "error", r, "stack", string(debug.Stack()))
				done <- attemptOutcome{err: Permanent(fmt.Errorf("executor panic: %v", r))}
			}
		}()
		res, err := fn(attemptCtx)
		done <- attemptOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return models.Result{}, Cancellation(fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}
		return models.Result{}, Transient(fmt.Errorf("%w after %s", ErrDeadlineExceeded, timeout))
	}
}
