package pacing

import (
	"fmt"
	"time"
)

// Config holds the tuning of the pacing controller. The delay ranges were
// tuned by hand against the origin, so all of them are configuration rather
// than constants.
type Config struct {
	// Bounds and starting point of the adaptive delay
	MinDelay     time.Duration `yaml:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	InitialDelay time.Duration `yaml:"initial_delay"`

	// Multipliers applied on failure and on success
	IncreaseFactor float64 `yaml:"increase_factor"`
	DecreaseFactor float64 `yaml:"decrease_factor"`

	// Fraction of the delay added or removed at random (0.3 = +/-30%)
	Jitter float64 `yaml:"jitter"`

	// Consecutive failures that force an extended cooldown
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`

	// Pause after the origin signals rate limiting
	ChallengeCooldown time.Duration `yaml:"challenge_cooldown"`

	// Requests allowed per identity before rotating
	SessionBudget int           `yaml:"session_budget"`
	RotationPause time.Duration `yaml:"rotation_pause"`

	// Extra pause every N requests; zero disables it
	LongPauseEvery int           `yaml:"long_pause_every"`
	LongPause      time.Duration `yaml:"long_pause"`

	// Hard ceiling on request rate; zero disables it
	RequestsPerMinute float64 `yaml:"requests_per_minute"`

	UserAgents []string `yaml:"user_agents"`
}

// DefaultConfig returns the pacing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinDelay:          3 * time.Second,
		MaxDelay:          60 * time.Second,
		InitialDelay:      3 * time.Second,
		IncreaseFactor:    1.5,
		DecreaseFactor:    0.9,
		Jitter:            0.3,
		FailureThreshold:  3,
		Cooldown:          3 * time.Minute,
		ChallengeCooldown: 90 * time.Second,
		SessionBudget:     50,
		RotationPause:     45 * time.Second,
		LongPause:         3 * time.Minute,
		UserAgents:        DefaultUserAgents(),
	}
}

// Validate reports configuration that would break the delay invariants.
func (c Config) Validate() error {
	if c.MinDelay < 0 {
		return fmt.Errorf("min_delay must not be negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max_delay (%s) is below min_delay (%s)", c.MaxDelay, c.MinDelay)
	}
	if c.IncreaseFactor < 1 {
		return fmt.Errorf("increase_factor must be at least 1, got %v", c.IncreaseFactor)
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor > 1 {
		return fmt.Errorf("decrease_factor must be in (0, 1], got %v", c.DecreaseFactor)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %v", c.Jitter)
	}
	if c.SessionBudget < 0 || c.FailureThreshold < 0 || c.LongPauseEvery < 0 {
		return fmt.Errorf("session_budget, failure_threshold and long_pause_every must not be negative")
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}
