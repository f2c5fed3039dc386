package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(3, time.Millisecond), func() error {
		calls++
		return nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1", calls, result.Attempts)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(5, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still broken")
	result := Do(context.Background(), Linear(3, time.Millisecond), func() error {
		return wantErr
	})
	if !errors.Is(result.Err, wantErr) {
		t.Fatalf("err = %v, want %v", result.Err, wantErr)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(5, time.Millisecond), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !IsPermanent(result.Err) {
		t.Errorf("expected permanent error, got %v", result.Err)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := Do(ctx, Linear(10, 50*time.Millisecond), func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", result.Err)
	}
	if calls == 0 || calls > 2 {
		t.Errorf("calls = %d, want 1 or 2", calls)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), Linear(3, time.Millisecond), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ready", nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if value != "ready" {
		t.Errorf("value = %q, want %q", value, "ready")
	}
}

func TestExponentialDelaysGrow(t *testing.T) {
	cfg := Exponential(4, 20*time.Millisecond, time.Second)
	cfg.Jitter = false
	start := time.Now()
	Do(context.Background(), cfg, func() error { return errors.New("x") })
	// Delays should be 20 + 40 + 80 = 140ms at minimum.
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 140ms", elapsed)
	}
}
