// Package resilience provides retry with exponential backoff and a circuit
// breaker for guarding generation backends.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig controls Retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay after each retry.
	BackoffMultiplier float64

	// Jitter randomizes each delay within ±50% to avoid thundering herds.
	Jitter bool

	// RetryableErrors decides whether an error is worth retrying.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a config suited to transient backend failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors treats everything as retryable except nil,
// cancellation (a caller abort must never be retried), and an open breaker
// (retrying would just hammer a tripped circuit).
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrBreakerTimeout) {
		return false
	}
	return true
}

// Retry invokes fn until it succeeds, the error is not retryable, retries are
// exhausted, or the context ends. The last error is returned on failure.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryStats describes what a Retry call actually did.
type RetryStats struct {
	TotalAttempts   int
	SuccessfulCalls int
	TotalRetries    int
	AverageBackoff  time.Duration
}

// RetryWithStats is Retry with attempt accounting for observability.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}

	var stats RetryStats
	var totalBackoff time.Duration
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(config, attempt-1)
			totalBackoff += delay
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return stats, errors.CombineErrors(ctx.Err(), lastErr)
			case <-timer.C:
			}
			stats.TotalRetries++
		}

		stats.TotalAttempts++
		lastErr = fn()
		if lastErr == nil {
			stats.SuccessfulCalls++
			if stats.TotalRetries > 0 {
				stats.AverageBackoff = totalBackoff / time.Duration(stats.TotalRetries)
			}
			return stats, nil
		}
		if !retryable(lastErr) {
			break
		}
		if ctx.Err() != nil {
			return stats, errors.CombineErrors(ctx.Err(), lastErr)
		}
	}

	if stats.TotalRetries > 0 {
		stats.AverageBackoff = totalBackoff / time.Duration(stats.TotalRetries)
	}
	return stats, lastErr
}

// ExponentialBackoff retries fn up to maxRetries times with delays of
// initial, 2*initial, 4*initial, and so on. No jitter, no cap.
func ExponentialBackoff(ctx context.Context, maxRetries int, initial time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initial,
		MaxBackoff:        0,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}

// backoffDelay computes the delay before retry number retry (0-based):
// initial * multiplier^retry, capped at MaxBackoff when set.
func backoffDelay(config RetryConfig, retry int) time.Duration {
	delay := float64(config.InitialBackoff)
	for i := 0; i < retry; i++ {
		delay *= config.BackoffMultiplier
	}
	if config.MaxBackoff > 0 && delay > float64(config.MaxBackoff) {
		delay = float64(config.MaxBackoff)
	}
	if config.Jitter {
		delay = delay/2 + rand.Float64()*delay
	}
	return time.Duration(delay)
}
