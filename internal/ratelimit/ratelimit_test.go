// file: internal/ratelimit/ratelimit_test.go
// version: 1.0.0
// guid: 7d8e9f0a-1b2c-3d4e-5f6a-7b8c9d0e1f2a

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastLimiter() *Limiter {
	return NewWithSettings(map[string]ProviderSettings{
		"test": {MinDelay: 20 * time.Millisecond, MaxFailures: 2, Cooldown: 80 * time.Millisecond},
	})
}

func TestWaitSpacesConsecutiveCalls(t *testing.T) {
	l := fastLimiter()
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "test"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "test"))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond,
		"second call must wait out the minimum delay")
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := NewWithSettings(map[string]ProviderSettings{
		"slow": {MinDelay: time.Hour, MaxFailures: 5, Cooldown: time.Minute},
	})
	require.NoError(t, l.Wait(context.Background(), "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "slow"))
}

func TestUnknownProviderUsesDefaults(t *testing.T) {
	l := New()
	require.NoError(t, l.Wait(context.Background(), "never-heard-of-it"))
	assert.False(t, l.IsOpen("never-heard-of-it"))
}

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	l := fastLimiter()

	for i := 0; i < 2; i++ {
		err := l.Do("test", func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.True(t, l.IsOpen("test"))

	calls := 0
	err := l.Do("test", func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "an open breaker must not invoke the call")
	assert.Greater(t, l.RemainingCooldown("test"), time.Duration(0))
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	l := fastLimiter()
	l.RecordFailure("test")
	l.RecordFailure("test")
	require.True(t, l.IsOpen("test"))

	time.Sleep(120 * time.Millisecond)

	err := l.Do("test", func() error { return nil })
	assert.NoError(t, err)
	assert.False(t, l.IsOpen("test"))
	assert.Zero(t, l.RemainingCooldown("test"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	l := fastLimiter()
	l.RecordFailure("test")
	require.NoError(t, l.Do("test", func() error { return nil }))
	l.RecordFailure("test")
	assert.False(t, l.IsOpen("test"), "non-consecutive failures must not trip the breaker")
}

func TestRecordQuotaExhaustedTripsImmediately(t *testing.T) {
	l := fastLimiter()
	l.RecordQuotaExhausted("test")
	assert.True(t, l.IsOpen("test"))
}

func TestWaitForClose(t *testing.T) {
	l := fastLimiter()

	assert.True(t, l.WaitForClose(context.Background(), "test", time.Second),
		"a closed breaker returns immediately")

	l.RecordQuotaExhausted("test")
	assert.False(t, l.WaitForClose(context.Background(), "test", 30*time.Millisecond),
		"gives up once maxWait is spent")

	// With enough budget the cooldown elapses and the half-open probe is
	// allowed through.
	assert.True(t, l.WaitForClose(context.Background(), "test", time.Second))
}

func TestWaitForCloseContextCancel(t *testing.T) {
	l := fastLimiter()
	l.RecordQuotaExhausted("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, l.WaitForClose(ctx, "test", time.Second))
}
