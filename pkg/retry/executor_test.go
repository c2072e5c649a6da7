package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/errors"
)

func TestRampBackoffIsBoundedAndMonotonic(t *testing.T) {
	r := &RampBackoff{Base: 5 * time.Second, Step: 2 * time.Second, CapAttempts: 10}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 5 * time.Second},
		{0, 5 * time.Second},
		{1, 7 * time.Second},
		{10, 25 * time.Second},
		{11, 25 * time.Second},
		{500, 25 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}

	prev := time.Duration(0)
	for i := 0; i < 60; i++ {
		d := r.NextDelay(i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	e := &ExponentialBackoff{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, e.NextDelay(0))
	assert.Equal(t, 4*time.Second, e.NextDelay(2))
	assert.Equal(t, 5*time.Second, e.NextDelay(3))
}

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		Strategy:    &ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

func TestExecuteWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := ExecuteWithRetry(context.Background(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", stderrors.New("transient")
		}
		return "ok", nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), func() (int, error) {
		calls++
		return 0, errors.New(errors.ErrInvalidInput, "bad")
	}, fastConfig(5))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestExecuteWithRetryGivesUp(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), func() (int, error) {
		calls++
		return 0, stderrors.New("down")
	}, fastConfig(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestExecuteWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		MaxAttempts: 5,
		Strategy:    &ExponentialBackoff{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1},
	}
	_, err := ExecuteWithRetry(ctx, func() (int, error) {
		return 0, stderrors.New("down")
	}, cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
