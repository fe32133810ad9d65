package engine

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// transientMarkers are error fragments worth another attempt. Anything
// else (bad selector, page structure change) fails immediately.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"429",
	"502",
	"503",
	"504",
	"connection reset",
	"connection refused",
	"net::err",
	"temporarily unavailable",
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoff sleeps a jittered, linearly growing delay. Returns false when
// the context was cancelled during the wait.
func backoff(ctx context.Context, attempt int, baseMs int) bool {
	if baseMs <= 0 {
		baseMs = 500
	}
	delay := time.Duration(baseMs*attempt+rand.Intn(baseMs)) * time.Millisecond
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// withRetry runs fn up to maxRetries+1 times, backing off between
// transient failures. The last error wins; permanent errors short-circuit.
func withRetry(ctx context.Context, maxRetries int, baseMs int, logf func(string, ...interface{}), fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt > maxRetries {
			return lastErr
		}
		if logf != nil {
			logf("Retrying after transient failure (attempt %d/%d): %v", attempt, maxRetries, lastErr)
		}
		if !backoff(ctx, attempt, baseMs) {
			return ctx.Err()
		}
	}
	return lastErr
}
