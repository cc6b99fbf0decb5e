package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTerminal = errors.New("terminal")
var errFlaky = errors.New("flaky")

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func onlyFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestDo_SucceedsAfterRetries(t *testing.T) {
	delays := noSleep(t)
	calls := 0
	err := Do(context.Background(), DefaultConfig(), "op", onlyFlaky, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
}

func TestDo_TerminalErrorStopsImmediately(t *testing.T) {
	delays := noSleep(t)
	calls := 0
	err := Do(context.Background(), DefaultConfig(), "op", onlyFlaky, func(context.Context) error {
		calls++
		return errTerminal
	})
	assert.ErrorIs(t, err, errTerminal)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	noSleep(t)
	calls := 0
	err := Do(context.Background(), DefaultConfig(), "fetch", onlyFlaky, func(context.Context) error {
		calls++
		return errFlaky
	})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, errFlaky)
	assert.Contains(t, err.Error(), "fetch failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	noSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultConfig(), "op", Always, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValue_ReturnsValue(t *testing.T) {
	noSleep(t)
	v, err := DoValue(context.Background(), DefaultConfig(), "op", nil, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBackoff_Exponential(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, Backoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, Backoff(cfg, 3))
	assert.Equal(t, time.Second, Backoff(cfg, 10))
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterEnabled: true}
	for i := 0; i < 100; i++ {
		d := Backoff(cfg, 2)
		assert.GreaterOrEqual(t, d, 1700*time.Millisecond)
		assert.LessOrEqual(t, d, 2300*time.Millisecond)
	}
}
