package papercrawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/papercrawl/clock"
)

// TestCooldownBreaker verifies the pause is taken on the clock and can be
// cancelled.
func TestCooldownBreaker(t *testing.T) {
	clk := clock.NewFake(time.Time{})
	b := CooldownBreaker{Pause: 5 * time.Minute, Clock: clk}

	require.NoError(t, b.Trip(context.Background(), 3))
	assert.Equal(t, []time.Duration{5 * time.Minute}, clk.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Trip(ctx, 3), context.Canceled)
}

// TestStopBreaker verifies the run is ended.
func TestStopBreaker(t *testing.T) {
	assert.ErrorIs(t, StopBreaker{}.Trip(context.Background(), 3), ErrCircuitOpen)
}

// TestBreakerFunc verifies custom policies receive the streak.
func TestBreakerFunc(t *testing.T) {
	var got int
	b := BreakerFunc(func(_ context.Context, streak int) error {
		got = streak
		return nil
	})
	require.NoError(t, b.Trip(context.Background(), 7))
	assert.Equal(t, 7, got)
}
