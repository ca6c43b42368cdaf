package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/clock"
	"github.com/pevans/papercrawl/pacing"
)

// Pacer is the part of the pacing controller the chain drives: a wait before
// every attempt and feedback after it.
type Pacer interface {
	Acquire(ctx context.Context) (pacing.Identity, error)
	OnOutcome(success bool)
	OnChallenge()
}

// ChainConfig configures retries and escalation.
type ChainConfig struct {
	// Strategy names in escalation order
	Strategies []string `yaml:"strategies"`

	// Attempts per strategy
	MaxRetries int `yaml:"max_retries"`

	// Per-attempt timeout for strategies without their own
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// Pause schedule between transient failures of one strategy
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
	RetryJitter  float64       `yaml:"retry_jitter"`
}

// DefaultChainConfig returns HTTP first, then the browser, three attempts
// each.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		Strategies:     []string{string(article.StrategyHTTP), string(article.StrategyBrowser)},
		MaxRetries:     3,
		AttemptTimeout: 30 * time.Second,
		RetryInitial:   5 * time.Second,
		RetryMax:       time.Minute,
		RetryJitter:    0.3,
	}
}

// Validate checks the retry settings and strategy names.
func (c ChainConfig) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be positive")
	}
	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		return fmt.Errorf("retry_jitter must be in [0, 1), got %v", c.RetryJitter)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for _, name := range c.Strategies {
		switch article.StrategyName(name) {
		case article.StrategyHTTP, article.StrategyBrowser:
		default:
			return fmt.Errorf("unknown strategy %q", name)
		}
	}
	return nil
}

// Select returns the strategies named in names, in that order.
func Select(names []string, available ...Strategy) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(available, func(s Strategy) bool {
			return string(s.Name()) == name
		})
		if i < 0 {
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
		out = append(out, available[i])
	}
	return out, nil
}

// Chain tries each strategy in turn until one returns page markup.
type Chain struct {
	cfg        ChainConfig
	strategies []Strategy
	pacer      Pacer
	clock      clock.Clock
	logger     *slog.Logger
}

// NewChain creates a chain over strategies, in escalation order.
func NewChain(cfg ChainConfig, pacer Pacer, clk clock.Clock, logger *slog.Logger, strategies ...Strategy) *Chain {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	return &Chain{
		cfg:        cfg,
		strategies: strategies,
		pacer:      pacer,
		clock:      clk,
		logger:     logger.With("component", "fetch"),
	}
}

// Fetch returns the first raw outcome of the chain. A challenge or fatal
// outcome escalates to the next strategy at once; transient outcomes are
// retried up to MaxRetries times with growing pauses. When every strategy
// fails the result is KindFatal with the last failure's reason. Cancelling
// ctx returns KindFatal with reason "cancelled".
func (c *Chain) Fetch(ctx context.Context, url string) Outcome {
	var last Outcome
	attempts := 0

	if len(c.strategies) == 0 {
		return Fatal("", 0, "no strategies configured")
	}

strategies:
	for _, s := range c.strategies {
		schedule := c.newSchedule()

		for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
			id, err := c.pacer.Acquire(ctx)
			if err != nil {
				return cancelled(s.Name(), attempts)
			}

			attempts++
			out := c.attempt(ctx, s, url, id)
			out.Attempts = attempts
			if ctx.Err() != nil {
				return cancelled(s.Name(), attempts)
			}

			switch out.Kind {
			case KindRaw:
				c.pacer.OnOutcome(true)
				c.logger.Debug("fetched",
					slog.String("url", url),
					slog.String("strategy", string(s.Name())),
					slog.Int("attempts", attempts),
				)
				return out

			case KindChallenge:
				c.pacer.OnChallenge()
				last = out
				c.logger.Warn("challenged, escalating",
					slog.String("url", url),
					slog.String("strategy", string(s.Name())),
					slog.String("reason", out.Reason),
				)
				continue strategies

			case KindFatal:
				c.pacer.OnOutcome(false)
				last = out
				c.logger.Warn("fatal fetch failure, escalating",
					slog.String("url", url),
					slog.String("strategy", string(s.Name())),
					slog.String("reason", out.Reason),
				)
				continue strategies

			default:
				c.pacer.OnOutcome(false)
				last = out
				c.logger.Info("transient fetch failure",
					slog.String("url", url),
					slog.String("strategy", string(s.Name())),
					slog.Int("attempt", attempt),
					slog.String("reason", out.Reason),
				)
				if attempt == c.cfg.MaxRetries {
					continue strategies
				}
				if err := c.clock.Sleep(ctx, schedule.NextBackOff()); err != nil {
					return cancelled(s.Name(), attempts)
				}
			}
		}
	}

	return Outcome{
		Kind:     KindFatal,
		Strategy: last.Strategy,
		Status:   last.Status,
		Reason:   last.Reason,
		Attempts: attempts,
	}
}

func (c *Chain) attempt(ctx context.Context, s Strategy, url string, id pacing.Identity) Outcome {
	timeout := c.cfg.AttemptTimeout
	if ts, ok := s.(TimeoutStrategy); ok && ts.Timeout() > 0 {
		timeout = ts.Timeout()
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := s.Fetch(attemptCtx, url, id)
	if out.Strategy == "" {
		out.Strategy = s.Name()
	}
	// A strategy that saw its own deadline may report it as cancellation
	if out.Kind == KindFatal && out.Reason == "cancelled" && ctx.Err() == nil {
		out = Transient(out.Strategy, out.Status, "timeout")
	}
	return out
}

// newSchedule returns the retry pause schedule for one strategy. It reads
// time from the chain clock so pauses are deterministic under a fake clock.
func (c *Chain) newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.RetryInitial > 0 {
		b.InitialInterval = c.cfg.RetryInitial
	}
	if c.cfg.RetryMax > 0 {
		b.MaxInterval = c.cfg.RetryMax
	}
	b.RandomizationFactor = c.cfg.RetryJitter
	b.MaxElapsedTime = 0
	b.Clock = c.clock
	b.Reset()
	return b
}

func cancelled(strategy article.StrategyName, attempts int) Outcome {
	out := Fatal(strategy, 0, "cancelled")
	out.Attempts = attempts
	return out
}
