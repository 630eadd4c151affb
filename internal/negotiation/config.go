package negotiation

import (
	"time"

	"github.com/callpilot/callpilot/internal/simulation"
)

const (
	DefaultMaxTurns     = 8
	DefaultTurnTimeout  = 30 * time.Second
	DefaultPollInterval = 300 * time.Millisecond
	DefaultWarmUp       = 2 * time.Second
	DefaultGrace        = 3 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// Config bounds one session.
type Config struct {
	MaxTurns int

	// TurnTimeout bounds each wait for the next inbound message.
	TurnTimeout  time.Duration
	PollInterval time.Duration

	// WarmUp is waited after the channels start and before the opening
	// message; Grace is waited after the exchange to catch a trailing agent
	// message.
	WarmUp time.Duration
	Grace  time.Duration

	// DrainTimeout bounds how long teardown waits for each channel.
	DrainTimeout time.Duration

	// Simulated counterpart window.
	DaysAhead       int
	DurationMinutes int
	MaxOptions      int

	Now func() time.Time
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxTurns:        DefaultMaxTurns,
		TurnTimeout:     DefaultTurnTimeout,
		PollInterval:    DefaultPollInterval,
		WarmUp:          DefaultWarmUp,
		Grace:           DefaultGrace,
		DrainTimeout:    DefaultDrainTimeout,
		DaysAhead:       simulation.DefaultDaysAhead,
		DurationMinutes: simulation.DefaultDurationMinutes,
		MaxOptions:      simulation.DefaultMaxOptions,
		Now:             time.Now,
	}
}

// withDefaults fills unset fields from DefaultConfig. WarmUp and Grace are
// kept as given; zero disables them.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.DaysAhead <= 0 {
		c.DaysAhead = d.DaysAhead
	}
	if c.DurationMinutes <= 0 {
		c.DurationMinutes = d.DurationMinutes
	}
	if c.MaxOptions <= 0 {
		c.MaxOptions = d.MaxOptions
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	c.WarmUp = max(c.WarmUp, 0)
	c.Grace = max(c.Grace, 0)
	return c
}
