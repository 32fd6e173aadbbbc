package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sells-group/contract-cli/internal/model"
)

func TestBounded_ReturnsValue(t *testing.T) {
	defer goleak.VerifyNone(t)

	v, err := Bounded(context.Background(), time.Second, model.StageText, func(_ context.Context) (string, error) {
		return "text", nil
	})
	if err != nil || v != "text" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestBounded_TimeoutWhenCollaboratorHangs(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := Bounded(context.Background(), 20*time.Millisecond, model.StageTerms, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return "", ctx.Err()
	})
	ce, ok := model.AsCollaborator(err)
	if !ok {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	if ce.Kind != model.KindTimeout || ce.Stage != model.StageTerms {
		t.Errorf("unexpected error: %+v", ce)
	}
}

func TestBounded_ParentCancelIsNotTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Bounded(ctx, time.Second, model.StageText, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if ce, ok := model.AsCollaborator(err); ok && ce.Kind == model.KindTimeout {
		t.Errorf("parent cancellation reported as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int
	g := Guard{
		Stage:   model.StageTerms,
		Timeout: time.Second,
		Retry:   fastRetry(3),
		Breaker: NewCircuitBreaker("anthropic", model.StageTerms, DefaultCircuitBreakerConfig()),
	}
	v, err := Call(context.Background(), g, func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &model.CollaboratorError{Stage: model.StageTerms, Kind: model.KindRateLimited}
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestCall_QuotaNotRetried(t *testing.T) {
	var calls int
	g := Guard{Stage: model.StageTerms, Timeout: time.Second, Retry: fastRetry(3)}
	_, err := Call(context.Background(), g, func(_ context.Context) (int, error) {
		calls++
		return 0, &model.CollaboratorError{Stage: model.StageTerms, Kind: model.KindQuotaExceeded}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one failing call, got %d calls, err %v", calls, err)
	}
}
