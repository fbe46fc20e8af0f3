package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetryConfig controls retry behavior around model invocations.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns settings suited to LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient-error substrings by category, matched
// case-insensitively against err.Error(). String matching because Genkit and
// provider SDKs expose no typed errors for these failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

// retryableError reports whether err should trigger another attempt.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// invokeWithRetry runs call with exponential backoff on transient errors.
// Each attempt waits on the rate limiter first. A routing abort (errRouted)
// is control flow, not failure, and returns immediately.
func (r *Router) invokeWithRetry(ctx context.Context, call func(context.Context) (*Result, error)) (*Result, error) {
	var lastErr error
	delay := r.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		res, err := call(ctx)
		if err == nil || errors.Is(err, errRouted) {
			return res, err
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("invoke: %w", err)
		}
		if attempt == r.retry.MaxRetries {
			break
		}

		r.logger.Debug("retrying after transient error",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, r.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("invoke after %d retries (elapsed %v): %w",
		r.retry.MaxRetries, time.Since(start), lastErr)
}
