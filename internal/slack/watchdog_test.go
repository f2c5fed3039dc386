package slack

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

func TestWatchdogClockJumpFires(t *testing.T) {
	var reason atomic.Value
	w := NewWatchdog(&MockClient{}, func(r string) { reason.Store(r) }, testLogger())

	ticks := 0
	// Wall advanced 50s while the monotonic clock saw 15s: the host slept.
	w.tick(context.Background(), 15*time.Second, 50*time.Second, &ticks)

	got, _ := reason.Load().(string)
	if got == "" {
		t.Fatal("expected staleness to fire")
	}
	if !strings.Contains(got, "suspended") {
		t.Errorf("reason = %q", got)
	}
	if w.StaleCount() != 1 {
		t.Errorf("StaleCount() = %d, want 1", w.StaleCount())
	}
}

func TestWatchdogSmallDriftDoesNotFire(t *testing.T) {
	fired := false
	w := NewWatchdog(&MockClient{}, func(string) { fired = true }, testLogger())

	ticks := 0
	// 10 s of drift is under the 15 s interval; NTP nudges land here.
	w.tick(context.Background(), 15*time.Second, 25*time.Second, &ticks)
	if fired {
		t.Error("drift below the interval should not fire")
	}
}

func TestWatchdogHealthCheckEveryEighthTick(t *testing.T) {
	var checks atomic.Int32
	mock := &MockClient{
		AuthTestContextFunc: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			checks.Add(1)
			return &slack.AuthTestResponse{UserID: "UBOT"}, nil
		},
	}
	w := NewWatchdog(mock, func(string) { t.Error("should not fire") }, testLogger())

	ticks := 0
	for i := 0; i < 7; i++ {
		w.tick(context.Background(), 15*time.Second, 15*time.Second, &ticks)
	}
	if checks.Load() != 0 {
		t.Fatalf("auth.test ran after %d checks, want none before the eighth tick", checks.Load())
	}
	if !w.LastHealthCheck().IsZero() {
		t.Error("LastHealthCheck should be zero before the first probe")
	}

	w.tick(context.Background(), 15*time.Second, 15*time.Second, &ticks)
	if checks.Load() != 1 {
		t.Fatalf("auth.test calls = %d, want 1", checks.Load())
	}
	if w.LastHealthCheck().IsZero() {
		t.Error("LastHealthCheck should be set after a successful probe")
	}

	// Counter resets; the next probe is eight ticks out again.
	for i := 0; i < 8; i++ {
		w.tick(context.Background(), 15*time.Second, 15*time.Second, &ticks)
	}
	if checks.Load() != 2 {
		t.Errorf("auth.test calls = %d, want 2", checks.Load())
	}
}

func TestWatchdogHealthCheckFailureFires(t *testing.T) {
	mock := &MockClient{
		AuthTestContextFunc: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			return nil, errors.New("token_revoked")
		},
	}
	var reason atomic.Value
	w := NewWatchdog(mock, func(r string) { reason.Store(r) }, testLogger())

	ticks := 0
	for i := 0; i < healthCheckEvery; i++ {
		w.tick(context.Background(), 15*time.Second, 15*time.Second, &ticks)
	}

	got, _ := reason.Load().(string)
	if !strings.Contains(got, "auth.test") {
		t.Errorf("reason = %q, want auth.test failure", got)
	}
	if !w.LastHealthCheck().IsZero() {
		t.Error("failed probe should not record a health check")
	}
}

func TestWatchdogRunStopsWithContext(t *testing.T) {
	w := NewWatchdog(&MockClient{}, nil, testLogger())
	w.interval = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
