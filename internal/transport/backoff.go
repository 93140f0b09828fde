package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BackoffConfig contains configuration for exponential backoff retries
type BackoffConfig struct {
	MaxRetries    int           // Maximum number of retries after the first attempt (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultBackoffConfig returns the default retry schedule
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// AttemptFunc is one connection attempt
type AttemptFunc func(ctx context.Context) error

// Retry calls fn until it succeeds, the retries are exhausted or ctx is
// cancelled.
//
// Exponential backoff schedule with the default config:
//   - Retry 1: 1 second
//   - Retry 2: 2 seconds
//   - Retry 3: 4 seconds
//   - Retry 4: 8 seconds
//   - Retry 5: 16 seconds
//   - After 5 retries: give up
//
// Returns the last attempt error wrapped once retries are exhausted, or
// ctx.Err() when cancelled.
func Retry(ctx context.Context, fn AttemptFunc, cfg BackoffConfig) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("transport: connected after retries", "retries", attempt)
			}
			return nil
		}

		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("transport: max retries exceeded (%d attempts): %w", attempt+1, err)
		}

		delay := calculateBackoff(attempt+1, cfg)
		slog.Warn("transport: attempt failed, retrying",
			"error", err,
			"retry", attempt+1,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(retry-1), capped at MaxRetryDelay
func calculateBackoff(retry int, cfg BackoffConfig) time.Duration {
	delay := cfg.RetryDelay * time.Duration(1<<uint(retry-1))
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
