package utils

import (
	"context"
	"errors"
	"time"
)

// RetryConfig defines how an operation is retried
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     string // fixed, linear, exponential
}

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryDelay calculates the delay before the given attempt (attempt >= 2)
func (c RetryConfig) RetryDelay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}

	var delay time.Duration
	switch c.Backoff {
	case "exponential":
		delay = c.BaseDelay << uint(attempt-2)
	case "linear":
		delay = c.BaseDelay * time.Duration(attempt-1)
	default:
		delay = c.BaseDelay
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Retry runs op until it succeeds, returns a permanent error, the attempts
// are exhausted or ctx is done. onRetry, if set, is called before each wait.
func Retry(ctx context.Context, cfg RetryConfig, op func(attempt int) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := cfg.RetryDelay(attempt)
			if onRetry != nil {
				onRetry(attempt, delay, lastErr)
			}

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}
	}

	return lastErr
}
