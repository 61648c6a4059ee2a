package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kipavy/bigdata-filrouge/pkg/logging"
	"github.com/kipavy/bigdata-filrouge/pkg/metrics"
)

var testMetrics = metrics.NewCollector("scheduler_test")

func newTestScheduler(retries int, retryDelay time.Duration) *Scheduler {
	logger := logging.NewStructuredLogger("scheduler-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)

	return New(Config{
		Interval:    time.Minute,
		Retries:     retries,
		RetryDelay:  retryDelay,
		TaskTimeout: time.Minute,
	}, nil, nil, logger, testMetrics)
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	s := newTestScheduler(2, time.Millisecond)

	var calls int
	err := s.withRetry(context.Background(), "extract", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	s := newTestScheduler(2, time.Millisecond)

	var calls int
	wantErr := errors.New("persistent")
	err := s.withRetry(context.Background(), "extract", func() error {
		calls++
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_NoRetries(t *testing.T) {
	s := newTestScheduler(0, time.Millisecond)

	var calls int
	err := s.withRetry(context.Background(), "extract", func() error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_StopsOnContextCancel(t *testing.T) {
	s := newTestScheduler(5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- s.withRetry(ctx, "extract", func() error {
			calls++
			return errors.New("boom")
		})
	}()

	// Give the first attempt time to fail and enter the retry delay.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("withRetry did not return after context cancellation")
	}
}
