package integration

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts. Zero or less retries
	// until ctx is done.
	MaxAttempts int

	// InitialDelay is the initial delay between retries.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// BackoffMultiplier multiplies the delay after each attempt.
	BackoffMultiplier float64

	// RetryableErrors defines which errors should trigger a retry.
	// If nil, all errors are retried.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retry executes fn with retry logic based on the config. When ctx ends
// first, the returned error wraps ctx.Err() and names the last failure.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryableErrors != nil && !cfg.RetryableErrors(err) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return zero, fmt.Errorf("all %d attempts failed: %w", attempt, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w after %d attempts, last error: %v", ctx.Err(), attempt, lastErr)
		case <-timer.C:
		}

		if cfg.BackoffMultiplier > 1 {
			delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// RetryFunc is a convenience wrapper for Retry with no return value.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
