package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/tierbench/internal/config"
)

type tempErr struct{ temp bool }

func (e tempErr) Error() string   { return "temp" }
func (e tempErr) Temporary() bool { return e.temp }

func TestRunRetriesTemporaryErrors(t *testing.T) {
	r, err := NewRetrier(3, time.Millisecond, 2*time.Millisecond, 2, 0, ExponentialBackoff, nil)
	require.NoError(t, err)

	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return tempErr{temp: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunStopsOnPermanentError(t *testing.T) {
	r, err := NewRetrier(5, time.Millisecond, time.Millisecond, 1, 0, LinearBackoff, nil)
	require.NoError(t, err)

	perm := errors.New("boom")
	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		return perm
	})
	assert.ErrorIs(t, err, perm)
	assert.Equal(t, 1, calls)
}

func TestRunExhaustsAttempts(t *testing.T) {
	r, err := NewRetrier(2, time.Millisecond, time.Millisecond, 1, 0, FibonacciBackoff, func(error) bool { return true })
	require.NoError(t, err)

	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		return errors.New("flaky")
	})
	assert.ErrorContains(t, err, "max retry attempts reached")
	assert.Equal(t, 2, calls)
}

func TestNilRetrierRunsOnce(t *testing.T) {
	var r *Retrier
	v, err := Do(context.Background(), r, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFromConfigDisabled(t *testing.T) {
	r, err := FromConfig(config.ResilienceConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestFromConfigBackoff(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		backoff  string
		strategy BackoffStrategy
		delays   []time.Duration
	}{
		{config.BackoffExponential, ExponentialBackoff, []time.Duration{10 * ms, 20 * ms, 40 * ms}},
		{config.BackoffLinear, LinearBackoff, []time.Duration{10 * ms, 20 * ms, 30 * ms}},
		{config.BackoffFibonacci, FibonacciBackoff, []time.Duration{10 * ms, 10 * ms, 20 * ms}},
	}
	for _, tt := range tests {
		t.Run(tt.backoff, func(t *testing.T) {
			cfg, err := config.NewConfig(config.WithRetry(4, 10*ms, time.Second), config.WithBackoff(tt.backoff))
			require.NoError(t, err)
			res := cfg.ResilienceConfig
			res.RandomizationFactor = 0

			r, err := FromConfig(res, nil)
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Equal(t, tt.strategy, r.strategy)
			for attempt, want := range tt.delays {
				assert.Equal(t, want, r.calculateDelay(attempt), "attempt %d", attempt)
			}
		})
	}

	_, err := config.NewConfig(config.WithBackoff("quadratic"))
	assert.Error(t, err)
	_, err = FromConfig(config.ResilienceConfig{EnableRetry: true, MaxRetries: 1, InitialInterval: ms, Backoff: "quadratic"}, nil)
	assert.Error(t, err)
}

func TestInvalidParameters(t *testing.T) {
	_, err := NewRetrier(0, time.Millisecond, time.Millisecond, 1, 0, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	_, err = NewRetrier(1, 0, time.Millisecond, 1, 0, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidBaseDelay)
	_, err = NewRetrier(1, time.Millisecond, time.Millisecond, 0.5, 0, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidFactor)
	_, err = NewRetrier(1, time.Millisecond, time.Millisecond, 1, 2, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidJitter)
}

func TestIsTemporary(t *testing.T) {
	assert.False(t, IsTemporary(nil))
	assert.False(t, IsTemporary(context.Canceled))
	assert.True(t, IsTemporary(context.DeadlineExceeded))
	assert.True(t, IsTemporary(tempErr{temp: true}))
	assert.False(t, IsTemporary(tempErr{temp: false}))
	assert.False(t, IsTemporary(errors.New("plain")))
}
