package core

import "time"

// RunnerConfig holds the provider-configurable constants from spec.md §4.5
// and §6. Defaults match the spec's documented values.
type RunnerConfig struct {
	// MaxConcurrencyPerScope bounds workers inside one runner; the
	// effective pool size is min(MaxConcurrencyPerScope, host_count).
	MaxConcurrencyPerScope int
	// HostTimeout is the per-host adapter-call deadline.
	HostTimeout time.Duration
	// JobMaxDuration is the absolute job deadline from start.
	JobMaxDuration time.Duration
	// RefreshInterval is used for STALE classification and the cooldown
	// boundary; floor is 10 minutes.
	RefreshInterval time.Duration
	// JobMaxGlobal bounds total concurrent running jobs per provider
	// (the Scheduler's global semaphore size).
	JobMaxGlobal int
}

// DefaultRunnerConfig returns spec.md's documented defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrencyPerScope: 2,
		HostTimeout:            30 * time.Second,
		JobMaxDuration:         5 * time.Minute,
		RefreshInterval:        60 * time.Minute,
		JobMaxGlobal:           4,
	}
}

// Normalize applies documented floors/defaults to zero-valued fields so a
// partially-specified config (e.g. from YAML) behaves per spec.
func (c RunnerConfig) Normalize() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.MaxConcurrencyPerScope <= 0 {
		c.MaxConcurrencyPerScope = d.MaxConcurrencyPerScope
	}
	if c.HostTimeout <= 0 {
		c.HostTimeout = d.HostTimeout
	}
	if c.JobMaxDuration <= 0 {
		c.JobMaxDuration = d.JobMaxDuration
	}
	if c.RefreshInterval < 10*time.Minute {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.JobMaxGlobal <= 0 {
		c.JobMaxGlobal = d.JobMaxGlobal
	}
	return c
}
