// Package clock supplies time and randomness to the acquisition engine so
// that pacing, retries and cooldowns can be driven deterministically in
// tests.
package clock

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Clock reports the current time and blocks for a duration. Sleep must return
// promptly with ctx.Err() when ctx is cancelled.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Rand is a source of uniformly distributed values in [0, 1).
type Rand interface {
	Float64() float64
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type globalRand struct{}

func (globalRand) Float64() float64 {
	return rand.Float64()
}

// NewRand returns a Rand backed by the runtime's random source.
func NewRand() Rand {
	return globalRand{}
}

// Fake is a virtual clock. Sleep advances the virtual time instantly and
// records the requested duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	if d > 0 {
		f.now = f.now.Add(d)
	}
	return nil
}

// Advance moves the virtual time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// Slept returns the sum of all recorded sleeps.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, d := range f.sleeps {
		total += d
	}
	return total
}

// FixedRand always returns the same value.
type FixedRand float64

func (r FixedRand) Float64() float64 {
	return float64(r)
}

// SeqRand returns its values in order, cycling when exhausted.
type SeqRand struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSeqRand returns a SeqRand over values.
func NewSeqRand(values ...float64) *SeqRand {
	return &SeqRand{values: values}
}

func (r *SeqRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[r.next%len(r.values)]
	r.next++
	return v
}
