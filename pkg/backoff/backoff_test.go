package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickrecipes/billing/pkg/backoff"
)

func TestExponentialNextInterval(t *testing.T) {
	t.Parallel()

	strategy := backoff.Exponential{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}

	assert.Equal(t, time.Duration(0), strategy.NextInterval(0))
	assert.Equal(t, 100*time.Millisecond, strategy.NextInterval(1))
	assert.Equal(t, 200*time.Millisecond, strategy.NextInterval(2))
	assert.Equal(t, 400*time.Millisecond, strategy.NextInterval(3))
	assert.Equal(t, time.Second, strategy.NextInterval(10), "capped at MaxInterval")
}

func TestExponentialJitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	strategy := backoff.Exponential{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
		JitterFactor:    0.5,
	}

	for range 100 {
		interval := strategy.NextInterval(1)
		assert.GreaterOrEqual(t, interval, 500*time.Millisecond)
		assert.LessOrEqual(t, interval, 1500*time.Millisecond)
	}
}

func TestFixedNextInterval(t *testing.T) {
	t.Parallel()

	strategy := backoff.Fixed{Interval: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, strategy.NextInterval(1))
	assert.Equal(t, 50*time.Millisecond, strategy.NextInterval(7))
	assert.Equal(t, time.Duration(0), strategy.NextInterval(0))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := backoff.Retry(context.Background(), 5, backoff.Fixed{Interval: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("persistent failure")
	calls := 0
	err := backoff.Retry(context.Background(), 3, backoff.Fixed{Interval: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := backoff.Retry(ctx, 10, backoff.Fixed{Interval: time.Second}, func(ctx context.Context) error {
		return errors.New("failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
