// Package scheduler generates daily circadian jobs and dispatches due jobs
// with per-user serialization.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// DispatchInterval is how often due jobs are polled.
	DispatchInterval time.Duration
	// GenerationInterval is how often the daily job set is generated.
	GenerationInterval time.Duration
	// MaxConcurrentUsers bounds how many users have job sequences in flight.
	MaxConcurrentUsers int
	// ActiveWithin is the activity window for generation eligibility.
	ActiveWithin time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		DispatchInterval:   60 * time.Second,
		GenerationInterval: 24 * time.Hour,
		MaxConcurrentUsers: 10,
		ActiveWithin:       7 * 24 * time.Hour,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	out := *c
	if out.DispatchInterval <= 0 {
		out.DispatchInterval = d.DispatchInterval
	}
	if out.GenerationInterval <= 0 {
		out.GenerationInterval = d.GenerationInterval
	}
	if out.MaxConcurrentUsers <= 0 {
		out.MaxConcurrentUsers = d.MaxConcurrentUsers
	}
	if out.ActiveWithin <= 0 {
		out.ActiveWithin = d.ActiveWithin
	}
	return &out
}
