package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange: func(name string, to State) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected errBoom, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open circuit should reject without calling fn, err=%v called=%v", err, called)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Errorf("state = %s, want open", cb.GetState())
	}
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("state after reset = %s", cb.GetState())
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errBoom
			}
			return nil
		})
		if err != nil || attempts != 3 {
			t.Errorf("err=%v attempts=%d", err, attempts)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func(ctx context.Context) error {
			attempts++
			return errBoom
		})
		if !errors.Is(err, errBoom) || attempts != 2 {
			t.Errorf("err=%v attempts=%d", err, attempts)
		}
	})

	t.Run("non retryable stops", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), "op", RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Millisecond,
			Retryable:    func(err error) bool { return !errors.Is(err, errBoom) },
		}, func(ctx context.Context) error {
			attempts++
			return errBoom
		})
		if !errors.Is(err, errBoom) || attempts != 1 {
			t.Errorf("err=%v attempts=%d", err, attempts)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Second}, func(ctx context.Context) error {
			return errBoom
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, "fast", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}

	_, err = WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 0, nil
	})
	if !errors.Is(err, apperrors.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected timeout error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(ctx, time.Second, "cancelled", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
