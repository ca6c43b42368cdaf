package pacing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pevans/papercrawl/clock"
)

// Session is the pacing state of one orchestrator run. It is only changed by
// the Controller that owns it.
type Session struct {
	RequestCount        int
	ConsecutiveFailures int
	CurrentDelay        time.Duration
	Identity            Identity

	TotalRequests int
	Rotations     int
}

// Rotator is implemented by fetch strategies that hold a connection or
// browser tied to an identity. Rotate must discard that resource so the next
// request is made under id.
type Rotator interface {
	Rotate(ctx context.Context, id Identity) error
}

// Controller decides how long to wait before each request and when to switch
// identity. It never fails; the only error it returns is context
// cancellation while waiting.
type Controller struct {
	cfg     Config
	clock   clock.Clock
	rnd     clock.Rand
	pool    *Pool
	limiter *rate.Limiter
	logger  *slog.Logger

	mu               sync.Mutex
	session          Session
	cooldownServedAt int
	challengePending bool
	rotators         []Rotator
}

// plan describes the wait computed for the next request.
type plan struct {
	delay     time.Duration
	cooldown  bool
	challenge bool
	longPause bool
}

// NewController creates a controller with a fresh session and a first
// identity from cfg.UserAgents.
func NewController(cfg Config, clk clock.Clock, rnd clock.Rand, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if rnd == nil {
		rnd = clock.NewRand()
	}

	c := &Controller{
		cfg:    cfg,
		clock:  clk,
		rnd:    rnd,
		pool:   NewPool(cfg.UserAgents, rnd),
		logger: logger.With("component", "pacing"),
	}

	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}

	c.session = Session{
		CurrentDelay: c.clamp(cfg.InitialDelay),
		Identity:     c.pool.Next(Identity{}),
	}

	return c
}

// Register adds a resource owner to be notified on identity rotation.
func (c *Controller) Register(r Rotator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotators = append(c.rotators, r)
}

// Session returns a snapshot of the current session state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// NextDelay returns the wait that would precede the next request, with
// jitter applied. It does not consume the cooldowns it reports.
func (c *Controller) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.planLocked().delay
}

func (c *Controller) planLocked() plan {
	s := c.session
	p := plan{delay: c.jitter(s.CurrentDelay)}

	if c.challengePending && c.cfg.ChallengeCooldown > 0 {
		p.challenge = true
		p.delay = max(p.delay, c.jitter(c.cfg.ChallengeCooldown))
	}

	threshold := c.cfg.FailureThreshold
	if threshold > 0 && s.ConsecutiveFailures >= threshold &&
		s.ConsecutiveFailures%threshold == 0 && c.cooldownServedAt != s.ConsecutiveFailures {
		p.cooldown = true
		p.delay = max(p.delay, c.jitter(c.cfg.Cooldown))
	}

	if every := c.cfg.LongPauseEvery; every > 0 && s.TotalRequests > 0 && s.TotalRequests%every == 0 {
		p.longPause = true
		p.delay += c.jitter(c.cfg.LongPause)
	}

	return p
}

// OnOutcome adapts the delay to the result of the last request.
func (c *Controller) OnOutcome(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.session.CurrentDelay = c.clamp(scale(c.session.CurrentDelay, c.cfg.DecreaseFactor))
		c.session.ConsecutiveFailures = 0
		c.cooldownServedAt = 0
		return
	}
	c.failLocked()
}

// OnChallenge records a request the origin refused as automated. It counts as
// a failure and schedules the challenge cooldown before the next request.
func (c *Controller) OnChallenge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked()
	c.challengePending = true
}

func (c *Controller) failLocked() {
	c.session.CurrentDelay = c.clamp(scale(c.session.CurrentDelay, c.cfg.IncreaseFactor))
	c.session.ConsecutiveFailures++
}

// ShouldRotate reports whether the session budget has been used up.
func (c *Controller) ShouldRotate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldRotateLocked()
}

func (c *Controller) shouldRotateLocked() bool {
	return c.cfg.SessionBudget > 0 && c.session.RequestCount >= c.cfg.SessionBudget
}

// Rotate switches to a new identity, resets the session counters, tells
// every registered Rotator to rebuild its resources, then waits out the
// rotation pause.
func (c *Controller) Rotate(ctx context.Context) error {
	c.mu.Lock()
	prev := c.session.Identity
	next := c.pool.Next(prev)
	c.session.Identity = next
	c.session.RequestCount = 0
	c.session.ConsecutiveFailures = 0
	c.session.Rotations++
	c.cooldownServedAt = 0
	rotators := make([]Rotator, len(c.rotators))
	copy(rotators, c.rotators)
	pause := c.jitter(c.cfg.RotationPause)
	c.mu.Unlock()

	c.logger.Info("rotating identity",
		slog.Int("generation", next.Generation),
		slog.String("user_agent", next.UserAgent),
		slog.Duration("pause", pause),
	)

	for _, r := range rotators {
		if err := r.Rotate(ctx, next); err != nil {
			c.logger.Warn("resource rotation failed", slog.Any("error", err))
		}
	}

	return c.clock.Sleep(ctx, pause)
}

// Acquire is called before every network attempt. It rotates identity when
// the budget is spent, waits the paced delay (or the rate limiter's delay if
// longer) and counts the request against the session. It returns the
// identity to use for the attempt.
func (c *Controller) Acquire(ctx context.Context) (Identity, error) {
	if c.ShouldRotate() {
		if err := c.Rotate(ctx); err != nil {
			return Identity{}, err
		}
	}

	c.mu.Lock()
	p := c.planLocked()
	if p.cooldown {
		c.cooldownServedAt = c.session.ConsecutiveFailures
	}
	c.challengePending = false
	if c.limiter != nil {
		now := c.clock.Now()
		if wait := c.limiter.ReserveN(now, 1).DelayFrom(now); wait > p.delay {
			p.delay = wait
		}
	}
	id := c.session.Identity
	c.mu.Unlock()

	if p.cooldown || p.challenge || p.longPause {
		c.logger.Info("extended pause before request",
			slog.Duration("delay", p.delay),
			slog.Bool("cooldown", p.cooldown),
			slog.Bool("challenge", p.challenge),
			slog.Bool("long_pause", p.longPause),
		)
	} else {
		c.logger.Debug("pacing request", slog.Duration("delay", p.delay))
	}

	if err := c.clock.Sleep(ctx, p.delay); err != nil {
		return Identity{}, err
	}

	c.mu.Lock()
	c.session.RequestCount++
	c.session.TotalRequests++
	c.mu.Unlock()

	return id, nil
}

func (c *Controller) clamp(d time.Duration) time.Duration {
	return min(max(d, c.cfg.MinDelay), c.cfg.MaxDelay)
}

// jitter spreads d uniformly over [d*(1-j), d*(1+j)].
func (c *Controller) jitter(d time.Duration) time.Duration {
	if c.cfg.Jitter == 0 || d <= 0 {
		return d
	}
	factor := 1 + c.cfg.Jitter*(2*c.rnd.Float64()-1)
	return time.Duration(float64(d) * factor)
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}
