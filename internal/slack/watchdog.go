package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	watchdogInterval   = 15 * time.Second
	healthCheckEvery   = 8 // intervals, ~2 minutes
	healthCheckTimeout = 10 * time.Second
)

// Watchdog detects stale connections the socket library cannot see. OS
// suspend (laptop lid, WSL2 sleep) leaves the websocket dead with no error
// and shows up as a wall-clock jump past what the monotonic clock slept;
// revoked auth shows up as silence. Every tick compares the two clocks,
// and every eighth tick runs auth.test with a short deadline. Either
// signal fires onStale, which is expected to force a reconnect.
type Watchdog struct {
	client   Client
	interval time.Duration
	onStale  func(reason string)
	logger   *slog.Logger

	mu              sync.Mutex
	lastHealthCheck time.Time
	staleCount      int
}

// NewWatchdog builds a watchdog with the default 15 s interval.
func NewWatchdog(client Client, onStale func(reason string), logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		client:   client,
		interval: watchdogInterval,
		onStale:  onStale,
		logger:   logger.With("component", "watchdog"),
	}
}

// Run ticks until ctx ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := time.Now()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// Subtracting monotonic-carrying times yields monotonic
			// elapsed; Round(0) strips the reading so the same
			// subtraction yields wall elapsed. Suspend stops the
			// monotonic clock, so wall racing ahead means the process
			// slept through the tick.
			elapsedMono := now.Sub(last)
			elapsedWall := now.Round(0).Sub(last.Round(0))
			w.tick(ctx, elapsedMono, elapsedWall, &ticks)
			last = now
		}
	}
}

func (w *Watchdog) tick(ctx context.Context, elapsedMono, elapsedWall time.Duration, ticks *int) {
	if jump := elapsedWall - elapsedMono; jump > w.interval {
		w.fire(fmt.Sprintf("wall clock jumped %s past monotonic, OS likely suspended", jump.Round(time.Second)))
	}

	*ticks++
	if *ticks < healthCheckEvery {
		return
	}
	*ticks = 0

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if _, err := w.client.AuthTestContext(checkCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fire("health check (auth.test) failed: " + err.Error())
		return
	}
	w.mu.Lock()
	w.lastHealthCheck = time.Now()
	w.mu.Unlock()
}

func (w *Watchdog) fire(reason string) {
	w.mu.Lock()
	w.staleCount++
	w.mu.Unlock()
	w.logger.Warn("stale connection detected", "reason", reason)
	if w.onStale != nil {
		w.onStale(reason)
	}
}

// LastHealthCheck reports when auth.test last succeeded.
func (w *Watchdog) LastHealthCheck() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHealthCheck
}

// StaleCount reports how many times staleness fired since start.
func (w *Watchdog) StaleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staleCount
}
