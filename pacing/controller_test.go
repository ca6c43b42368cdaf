package pacing

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/papercrawl/clock"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RotationPause = 0
	return cfg
}

func newTestController(cfg Config) (*Controller, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC))
	// 0.5 makes every jitter factor exactly 1
	return NewController(cfg, clk, clock.FixedRand(0.5), nil), clk
}

type recordingRotator struct {
	identities []Identity
}

func (r *recordingRotator) Rotate(_ context.Context, id Identity) error {
	r.identities = append(r.identities, id)
	return nil
}

// TestController_InitialState verifies a fresh session.
func TestController_InitialState(t *testing.T) {
	c, _ := newTestController(testConfig())
	s := c.Session()

	assert.Equal(t, 0, s.RequestCount)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 3*time.Second, s.CurrentDelay)
	assert.Equal(t, 1, s.Identity.Generation)
	assert.NotEmpty(t, s.Identity.UserAgent)
}

// TestController_DelayAdaptation verifies multiplicative growth on failure
// and decay on success, clamped to the bounds.
func TestController_DelayAdaptation(t *testing.T) {
	c, _ := newTestController(testConfig())

	c.OnOutcome(false)
	assert.Equal(t, 4500*time.Millisecond, c.Session().CurrentDelay)

	c.OnOutcome(false)
	assert.Equal(t, 6750*time.Millisecond, c.Session().CurrentDelay)
	assert.Equal(t, 2, c.Session().ConsecutiveFailures)

	c.OnOutcome(true)
	assert.InDelta(t, float64(6075*time.Millisecond), float64(c.Session().CurrentDelay), float64(time.Microsecond))
	assert.Equal(t, 0, c.Session().ConsecutiveFailures)

	for range 50 {
		c.OnOutcome(false)
	}
	assert.Equal(t, 60*time.Second, c.Session().CurrentDelay, "clamped to max")

	for range 100 {
		c.OnOutcome(true)
	}
	assert.Equal(t, 3*time.Second, c.Session().CurrentDelay, "clamped to min")
}

// TestController_DelayBounds verifies that for any sequence of outcomes the
// delay stays within bounds, never grows during a success run and never
// shrinks during a failure run.
func TestController_DelayBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = 2 * time.Second
	cfg.MaxDelay = 40 * time.Second
	cfg.InitialDelay = 10 * time.Second

	for seed := range uint64(20) {
		c, _ := newTestController(cfg)
		r := rand.New(rand.NewPCG(seed, seed*7+1))

		prev := c.Session().CurrentDelay
		for range 500 {
			success := r.IntN(2) == 0
			c.OnOutcome(success)
			cur := c.Session().CurrentDelay

			require.GreaterOrEqual(t, cur, cfg.MinDelay)
			require.LessOrEqual(t, cur, cfg.MaxDelay)
			if success {
				require.LessOrEqual(t, cur, prev, "success must not increase the delay")
			} else {
				require.GreaterOrEqual(t, cur, prev, "failure must not decrease the delay")
			}
			prev = cur
		}
	}
}

// TestController_JitterRange verifies the jittered delay stays within +/-30%
// of the current delay.
func TestController_JitterRange(t *testing.T) {
	cfg := testConfig()
	clk := clock.NewFake(time.Time{})

	for _, v := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		c := NewController(cfg, clk, clock.FixedRand(v), nil)
		d := c.NextDelay()
		assert.GreaterOrEqual(t, d, 2100*time.Millisecond-time.Millisecond)
		assert.LessOrEqual(t, d, 3900*time.Millisecond+time.Millisecond)
	}

	low := NewController(cfg, clk, clock.FixedRand(0), nil)
	assert.InDelta(t, float64(2100*time.Millisecond), float64(low.NextDelay()), float64(time.Microsecond))
}

// TestController_Rotation verifies that after exactly SessionBudget requests
// the next request uses a new identity and the request count restarts.
func TestController_Rotation(t *testing.T) {
	cfg := testConfig()
	cfg.SessionBudget = 3
	c, _ := newTestController(cfg)
	rotator := &recordingRotator{}
	c.Register(rotator)
	ctx := context.Background()

	first := c.Session().Identity
	for i := range 3 {
		id, err := c.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, id, "request %d should use the first identity", i+1)
	}
	assert.Equal(t, 3, c.Session().RequestCount)
	assert.True(t, c.ShouldRotate())

	id, err := c.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.UserAgent, id.UserAgent)
	assert.Equal(t, 2, id.Generation)
	assert.Equal(t, 1, c.Session().RequestCount, "count restarted at rotation, then this request")
	assert.Equal(t, 1, c.Session().Rotations)
	assert.Equal(t, 4, c.Session().TotalRequests)

	require.Len(t, rotator.identities, 1)
	assert.Equal(t, id, rotator.identities[0])
}

// TestController_RotateResetsCounters verifies an explicit rotation.
func TestController_RotateResetsCounters(t *testing.T) {
	c, _ := newTestController(testConfig())
	ctx := context.Background()

	_, err := c.Acquire(ctx)
	require.NoError(t, err)
	c.OnOutcome(false)

	require.NoError(t, c.Rotate(ctx))
	s := c.Session()
	assert.Equal(t, 0, s.RequestCount)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 2, s.Identity.Generation)
}

// TestController_FailureCooldown verifies the extended cooldown once the
// failure threshold is reached, served once per crossing.
func TestController_FailureCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 3
	cfg.Cooldown = 5 * time.Minute
	c, clk := newTestController(cfg)
	ctx := context.Background()

	for range 3 {
		c.OnOutcome(false)
	}
	assert.Equal(t, 5*time.Minute, c.NextDelay())

	_, err := c.Acquire(ctx)
	require.NoError(t, err)
	sleeps := clk.Sleeps()
	assert.Equal(t, 5*time.Minute, sleeps[len(sleeps)-1])

	// Served: the next delay falls back to the adaptive one
	assert.Less(t, c.NextDelay(), time.Minute)

	// A success resets the streak
	c.OnOutcome(true)
	for range 3 {
		c.OnOutcome(false)
	}
	assert.Equal(t, 5*time.Minute, c.NextDelay())
}

// TestController_ChallengeCooldown verifies the pause after a challenge.
func TestController_ChallengeCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.ChallengeCooldown = 90 * time.Second
	c, clk := newTestController(cfg)
	ctx := context.Background()

	c.OnChallenge()
	assert.Equal(t, 1, c.Session().ConsecutiveFailures)
	assert.Equal(t, 90*time.Second, c.NextDelay())

	_, err := c.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{90 * time.Second}, clk.Sleeps())
	assert.Less(t, c.NextDelay(), 90*time.Second)
}

// TestController_LongPause verifies the periodic long pause.
func TestController_LongPause(t *testing.T) {
	cfg := testConfig()
	cfg.LongPauseEvery = 2
	cfg.LongPause = time.Minute
	c, clk := newTestController(cfg)
	ctx := context.Background()

	for range 3 {
		_, err := c.Acquire(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []time.Duration{
		3 * time.Second,
		3 * time.Second,
		3*time.Second + time.Minute,
	}, clk.Sleeps())
}

// TestController_RateLimit verifies the request ceiling stretches delays.
func TestController_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = 0
	cfg.InitialDelay = 0
	cfg.RequestsPerMinute = 6
	c, clk := newTestController(cfg)
	ctx := context.Background()

	for range 3 {
		_, err := c.Acquire(ctx)
		require.NoError(t, err)
	}

	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 3)
	assert.Equal(t, time.Duration(0), sleeps[0], "burst of one is available immediately")
	assert.InDelta(t, float64(10*time.Second), float64(sleeps[1]), float64(time.Millisecond))
	assert.InDelta(t, float64(10*time.Second), float64(sleeps[2]), float64(time.Millisecond))
}

// TestController_AcquireCancelled verifies cancellation during the wait.
func TestController_AcquireCancelled(t *testing.T) {
	c, _ := newTestController(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Session().RequestCount, "a cancelled wait does not count as a request")
}

// TestConfig_Validate verifies bound checks.
func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxDelay = time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DecreaseFactor = 1.2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Jitter = 1
	assert.Error(t, cfg.Validate())
}

// TestPool_Next verifies identities differ between rotations.
func TestPool_Next(t *testing.T) {
	p := NewPool([]string{"a", "b"}, clock.FixedRand(0))
	first := p.Next(Identity{})
	second := p.Next(first)

	assert.Equal(t, "a", first.UserAgent)
	assert.Equal(t, "b", second.UserAgent)
	assert.Equal(t, 2, second.Generation)
	assert.Equal(t, 1200, first.WindowWidth)
	assert.Equal(t, 800, first.WindowHeight)

	single := NewPool([]string{"only"}, clock.FixedRand(0.99))
	assert.Equal(t, "only", single.Next(single.Next(Identity{})).UserAgent)
}
