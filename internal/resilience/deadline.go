package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/model"
)

// Bounded runs fn under a deadline of d. When the deadline passes first the
// call fails with a timeout collaborator error, even if fn ignores its
// context. A non-positive d disables the deadline.
func Bounded[T any](ctx context.Context, d time.Duration, stage model.CollaboratorStage, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(stage, d, r.err)
		}
		return r.val, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, eris.Wrap(ctx.Err(), "resilience: call cancelled")
		}
		return zero, timeoutError(stage, d, cctx.Err())
	}
}

func timeoutError(stage model.CollaboratorStage, d time.Duration, cause error) error {
	return &model.CollaboratorError{
		Stage:  stage,
		Kind:   model.KindTimeout,
		Detail: "no response within " + d.String(),
		Err:    cause,
	}
}

// Guard is the policy applied to one collaborator: an overall deadline, a
// retry policy inside it and an optional breaker around each attempt.
type Guard struct {
	Stage   model.CollaboratorStage
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Call runs fn under g.
func Call[T any](ctx context.Context, g Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	return Bounded(ctx, g.Timeout, g.Stage, func(ctx context.Context) (T, error) {
		return DoVal(ctx, g.Retry, func(ctx context.Context) (T, error) {
			if g.Breaker == nil {
				return fn(ctx)
			}
			return ExecuteVal(ctx, g.Breaker, fn)
		})
	})
}
