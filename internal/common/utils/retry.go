package utils

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
//
// The policy is data: attempt count, backoff schedule and the retryable-error
// predicate all live here rather than at call sites.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// BaseDelay is the delay before the first retry; subsequent retries wait
	// BaseDelay * 2^attempt
	BaseDelay time.Duration

	// MaxDelay caps exponential growth
	MaxDelay time.Duration

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration for
// external API calls: 4 attempts with a 1s/2s/4s backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff between attempts.
//
// Returns nil as soon as fn succeeds. A non-retryable error (per
// config.RetryableErrors) is returned immediately. After MaxAttempts
// failures the last error is returned wrapped in "max retries exceeded".
// Context cancellation interrupts the backoff sleep.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return err
			}

			if attempt == config.MaxAttempts-1 {
				break
			}
		}

		delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Retry executes fn with fixed-delay retry logic.
//
// Convenience wrapper around RetryWithBackoff with no exponential growth.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	config := RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
	}
	return RetryWithBackoff(context.Background(), config, fn)
}
