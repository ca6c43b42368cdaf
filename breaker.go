package papercrawl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pevans/papercrawl/clock"
)

var (
	// ErrCircuitOpen ends a run after too many consecutive exhausted items.
	ErrCircuitOpen = errors.New("too many consecutive failures")

	// ErrNotConfirmed is returned when the operator declines a large run.
	ErrNotConfirmed = errors.New("run not confirmed")
)

// Breaker decides what happens when consecutive exhausted items reach the
// threshold. Returning nil continues the run; any error ends it.
type Breaker interface {
	Trip(ctx context.Context, streak int) error
}

// CooldownBreaker pauses the run and then lets it continue.
type CooldownBreaker struct {
	Pause  time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

func (b CooldownBreaker) Trip(ctx context.Context, streak int) error {
	clk := b.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if b.Logger != nil {
		b.Logger.Warn("pausing after consecutive failures",
			slog.Int("streak", streak),
			slog.Duration("pause", b.Pause),
		)
	}
	return clk.Sleep(ctx, b.Pause)
}

// StopBreaker ends the run.
type StopBreaker struct{}

func (StopBreaker) Trip(context.Context, int) error {
	return ErrCircuitOpen
}

// BreakerFunc adapts a function to Breaker.
type BreakerFunc func(ctx context.Context, streak int) error

func (f BreakerFunc) Trip(ctx context.Context, streak int) error {
	return f(ctx, streak)
}

// Confirmer is asked before a run that would fetch many items.
type Confirmer interface {
	Confirm(ctx context.Context, pending int) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, pending int) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, pending int) (bool, error) {
	return f(ctx, pending)
}
