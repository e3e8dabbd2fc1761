package core

import (
	"context"
	"fmt"
	"time"
)

// Core is the in-process facade spec.md §6 exposes to the HTTP layer and
// the LLM tool-calling copilot: a single (provider, scope) instance owning
// its own JobStore/SnapshotStore, sharing the process-wide HostHealthStore
// and HostLockRegistry.
type Core struct {
	Provider string
	Scope    Scope
	Level    Level

	Jobs      *JobStore
	Snapshots *SnapshotStore
	Health    *HostHealthStore
	Scheduler *Scheduler
	Refresh   *RefreshPolicy
	Warmup    *WarmupLoop

	runner  *JobRunner
	cfg     RunnerConfig
	enabled func() bool
}

// Deps bundles the collaborators a Core needs at construction time. Health
// and Locks are process-wide and must be shared across every Core instance
// the process constructs.
type Deps struct {
	Provider   string
	Scope      Scope
	Level      Level
	Configured []string
	Enabled    func() bool

	Adapter  Adapter
	Health   *HostHealthStore
	Locks    *HostLockRegistry
	Bridge   PersistenceBridge
	Codec    SnapshotCodec
	PLogger  PersistenceLogger
	Audit    AuditSink
	Logger   Logger
	Resolver WarmupHostsResolver
	Config   RunnerConfig
}

// NewCore wires one (provider, scope) instance end to end.
func NewCore(d Deps) *Core {
	cfg := d.Config.Normalize()
	jobs := NewJobStore(nil)
	snaps := NewSnapshotStore(d.Provider, d.Bridge, d.Codec, d.PLogger, nil)

	c := &Core{
		Provider:  d.Provider,
		Scope:     d.Scope,
		Level:     d.Level,
		Jobs:      jobs,
		Snapshots: snaps,
		Health:    d.Health,
		cfg:       cfg,
		enabled:   d.Enabled,
	}

	c.runner = NewJobRunner(d.Provider, jobs, snaps, d.Health, d.Locks, d.Adapter, d.Audit, d.Logger, cfg, d.Enabled)
	c.Scheduler = NewScheduler(jobs, cfg, d.Logger, func(ctx context.Context, job *Job) {
		c.runner.Run(ctx, job)
	})
	c.Refresh = NewRefreshPolicy(jobs, snaps, c.Scheduler, cfg)
	c.Warmup = NewWarmupLoop(d.Scope, d.Level, d.Configured, d.Enabled, d.Resolver, c.Refresh, jobs, snaps, cfg, d.Logger)
	return c
}

// Start boots the scheduler and the warmup loop.
func (c *Core) Start(ctx context.Context) {
	c.Scheduler.Start(ctx)
	c.Warmup.Start(ctx)
}

// TriggerRefresh is spec.md §6's TriggerRefresh(scope_key, force) → Job. If
// the provider is disabled or not configured, callers (the HTTP layer) are
// expected to check first; TriggerRefresh itself still guards against being
// invoked anyway by returning ErrProviderNotReady.
func (c *Core) TriggerRefresh(ctx context.Context, hosts []string, force bool) (*Job, error) {
	if c.enabled != nil && !c.enabled() {
		return nil, ErrProviderNotReady
	}
	key := NewScopeKey(c.Scope, hosts, c.Level)
	return c.Refresh.TriggerRefresh(ctx, key, force)
}

// GetJob is spec.md §6's GetJob(job_id) → Job?.
func (c *Core) GetJob(jobID string) (*Job, bool) {
	return c.Jobs.Get(jobID)
}

// GetSnapshot is spec.md §6's GetSnapshot(scope_key) → SnapshotPayload?.
func (c *Core) GetSnapshot(ctx context.Context, hosts []string) (*SnapshotPayload, bool) {
	key := NewScopeKey(c.Scope, hosts, c.Level)
	return c.Snapshots.GetSnapshot(ctx, key)
}

// Shutdown signals the scheduler and warmup loops to exit and waits for
// both loops to return. Runners already in flight are neither cancelled
// nor waited for; they run on to completion or their job deadline.
func (c *Core) Shutdown(ctx context.Context) error {
	c.Warmup.Stop()
	c.Scheduler.Stop()
	return nil
}

// RunForDisabledProvider finalizes job immediately as FAILED with
// message="provider_not_ready", per spec.md §7's disabled-provider clause.
// Called by JobRunner.Run when a job was created for a provider that became
// disabled between TriggerRefresh and scheduling.
func RunForDisabledProvider(jobs *JobStore, job *Job, finishedAt time.Time) *Job {
	final, _ := jobs.UpdateJob(job.JobID, func(j *Job) {
		j.Status = JobFailed
		j.Message = "provider_not_ready"
		j.FinishedAt = &finishedAt
	})
	return final
}

func (c *Core) String() string {
	return fmt.Sprintf("core[%s/%s/%s]", c.Provider, c.Scope, c.Level)
}
