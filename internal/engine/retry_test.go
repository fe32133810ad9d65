package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("navigation timeout of 10000ms exceeded"), true},
		{errors.New("request Timed Out"), true},
		{errors.New("server returned 429 Too Many Requests"), true},
		{errors.New("bad gateway: 502"), true},
		{errors.New("503 service temporarily unavailable"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("net::ERR_CONNECTION_CLOSED"), true},
		{errors.New("no element matches selector .company"), false},
		{errors.New("login form not found"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.retryable, retryable(tc.err), "err=%v", tc.err)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	attempts := 0
	permanent := errors.New("selector .card vanished")
	err := withRetry(context.Background(), 3, 1, nil, func() error {
		attempts++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts, "permanent errors never retry")
}

func TestWithRetryRecoversFromTransientError(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := withRetry(context.Background(), 3, 1, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("navigation timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	var logged []string
	logf := func(format string, args ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}
	err := withRetry(context.Background(), 2, 1, logf, func() error {
		attempts++
		return fmt.Errorf("attempt %d: 503 from upstream", attempts)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 3", "the last attempt's error is the one returned")
	assert.Equal(t, 3, attempts, "one initial try plus two retries")
	assert.Len(t, logged, 2, "each retry is announced")
}

func TestWithRetrySkipsWorkOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := withRetry(ctx, 3, 1, nil, func() error {
		attempts++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestWithRetryObservesCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		// Large base delay: the only way this returns promptly is the
		// backoff wait noticing the cancel.
		done <- withRetry(ctx, 3, 60000, nil, func() error {
			attempts++
			return errors.New("503 from upstream")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("withRetry slept through the cancellation")
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	t.Parallel()

	start := time.Now()
	ok := backoff(context.Background(), 2, 10)
	elapsed := time.Since(start)

	require.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond, "attempt 2 waits at least 2x the base")
}
