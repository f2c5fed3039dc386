// Package retry provides bounded retry with exponential backoff for calls
// that cross a network boundary: provider requests, Slack Web API calls,
// and outbox delivery.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config controls attempt count and backoff growth.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Factor is the exponential growth factor between attempts.
	Factor float64
	// Jitter randomizes each delay by a factor in [0.5, 1.5).
	Jitter bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Exponential builds a config with doubling delays and jitter enabled.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	return Config{MaxAttempts: maxAttempts, InitialDelay: initial, MaxDelay: max, Factor: 2.0, Jitter: true}
}

// Linear builds a config with a fixed delay between attempts.
func Linear(maxAttempts int, delay time.Duration) Config {
	return Config{MaxAttempts: maxAttempts, InitialDelay: delay, MaxDelay: delay, Factor: 1.0}
}

// Result reports how a retried operation ended.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// attempt budget, or the context ends. Delays between attempts respect ctx.
func Do(ctx context.Context, config Config, op func() error) Result {
	config = config.withDefaults()
	start := time.Now()
	result := Result{}
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}

		err := op()
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if IsPermanent(err) || attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter does not require cryptographic randomness
		}
		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue runs an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to stop further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
