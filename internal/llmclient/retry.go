package llmclient

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// ErrRateLimited is returned when all retries are exhausted against a
// throttled or otherwise transiently failing backend.
var ErrRateLimited = fmt.Errorf("llm backend is throttled or unavailable after retries")

// These constants implement this system's Critic-call retry policy (spec
// §4.4.4): base 1s, factor 2, jitter +/-20%, max 5 attempts.
const (
	retryBaseDelay  = 1 * time.Second
	retryFactor     = 2.0
	retryJitterFrac = 0.20
	retryMaxAttempts = 5
)

// isRetryableError reports whether err looks like a throttling, timeout, or
// transient 5xx failure worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "unavailable")
}

// isRetryableStatus checks if an HTTP status code warrants a retry.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// delayForAttempt returns the backoff delay before retry attempt n (1-based,
// n=1 is the first retry after the initial call), with +/-20% jitter.
func delayForAttempt(n int) time.Duration {
	base := float64(retryBaseDelay) * pow(retryFactor, float64(n-1))
	jitter := base * retryJitterFrac * (2*rand.Float64() - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// withRetry executes fn up to retryMaxAttempts times, retrying on transient
// errors with exponential backoff and jitter. On exhaustion it returns
// ErrRateLimited; callers are expected to degrade gracefully (spec §7).
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	if !isRetryableError(err) {
		return result, err
	}

	for attempt := 1; attempt < retryMaxAttempts; attempt++ {
		delay := delayForAttempt(attempt)

		slog.Warn("llmclient: retrying transient failure",
			"operation", operation,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("llmclient.%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			slog.Info("llmclient: retry succeeded", "operation", operation, "attempt", attempt+1)
			return result, nil
		}
		if !isRetryableError(err) {
			return result, err
		}
	}

	var zero T
	slog.Error("llmclient: retries exhausted", "operation", operation, "attempts", retryMaxAttempts)
	return zero, ErrRateLimited
}
