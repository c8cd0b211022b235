// Package provider holds the retry and timeout policy applied to external
// embedding and generation calls. Transient failures are retried with
// bounded exponential backoff; permanent failures surface immediately.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docmate-ai/docmate"
)

// RetryConfig bounds retries of a provider call. The zero value means
// "unset" and callers substitute DefaultRetryConfig; to run every call as
// a single attempt set Disabled instead.
type RetryConfig struct {
	// Disabled forces a single attempt per call regardless of MaxRetries,
	// and marks the config as intentionally set so callers do not replace
	// it with defaults.
	Disabled      bool
	MaxRetries    int           // retries after the first attempt
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration
	BackoffFactor float64
	Timeout       time.Duration // per-attempt deadline, 0 disables
}

// IsZero reports whether the config is unset, as opposed to deliberately
// configured with no retries.
func (c RetryConfig) IsZero() bool {
	return !c.Disabled && c.MaxRetries == 0 && c.InitialDelay == 0 &&
		c.MaxDelay == 0 && c.BackoffFactor == 0 && c.Timeout == 0
}

// DefaultRetryConfig returns the pipeline's standard provider policy: one
// retry with bounded backoff and a 30s per-attempt deadline.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    1,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Timeout:       30 * time.Second,
	}
}

// Do runs fn under the retry policy. Only transient failures are retried;
// a per-attempt timeout is converted to a transient provider error so the
// caller sees a classified failure rather than a bare deadline.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	retries := cfg.MaxRetries
	if cfg.Disabled {
		retries = 0
	}

	delay := cfg.InitialDelay
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := runAttempt(ctx, cfg.Timeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// The parent being cancelled is not a provider failure.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !docmate.IsTransient(err) {
			return zero, err
		}

		if attempt < retries {
			select {
			case <-time.After(delay):
				next := time.Duration(float64(delay) * cfg.BackoffFactor)
				if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
					next = cfg.MaxDelay
				}
				delay = next
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("retries exhausted after %d attempts: %w", retries+1, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return result, docmate.NewProviderError("", docmate.Transient,
			fmt.Errorf("call timed out after %v: %w", timeout, err))
	}
	return result, err
}
