package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(adapter Adapter, cfg RunnerConfig) (*JobStore, *SnapshotStore, *HostHealthStore, *JobRunner) {
	jobs := NewJobStore(nil)
	snaps := NewSnapshotStore("vmware", nil, nil, nil, nil)
	health := NewHostHealthStore(nil)
	locks := NewHostLockRegistry()
	runner := NewJobRunner("vmware", jobs, snaps, health, locks, adapter, nil, nil, cfg, nil)
	return jobs, snaps, health, runner
}

// S1 — fresh warmup / single host succeeds.
func TestJobRunner_S1_FreshSuccess(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.succeed("vc1", []VMRecord{{ID: "1", Name: "vm1", Host: "vc1"}})

	jobs, snaps, _, runner := newTestCore(adapter, DefaultRunnerConfig())
	key := NewScopeKey(ScopeVMS, []string{"vc1"}, LevelSummary)
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	runner.Run(context.Background(), job)

	final, ok := jobs.Get(job.JobID)
	require.True(t, ok)
	assert.Equal(t, JobSucceeded, final.Status)
	assert.Empty(t, final.Message)
	assert.Equal(t, HostOK, final.HostsStatus["vc1"].State)

	snap, ok := snaps.GetSnapshot(context.Background(), key)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), snap.GeneratedAt, 5*time.Second)
	assert.Equal(t, HostOK, snap.HostsStatus["vc1"].State)
	assert.Len(t, snap.Data.VMData["vc1"], 1)
}

// S4 — single host fails, fleet degrades.
func TestJobRunner_S4_PartialFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.succeed("a", []VMRecord{{ID: "1", Host: "a"}})
	adapter.fail("b", ErrKindUnreachable, "connection refused")
	adapter.succeed("c", []VMRecord{{ID: "3", Host: "c"}})

	jobs, snaps, health, runner := newTestCore(adapter, DefaultRunnerConfig())
	key := NewScopeKey(ScopeVMS, []string{"a", "b", "c"}, LevelSummary)
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	runner.Run(context.Background(), job)

	final, _ := jobs.Get(job.JobID)
	assert.Equal(t, JobSucceeded, final.Status)
	assert.Equal(t, "partial", final.Message)
	assert.Equal(t, HostOK, final.HostsStatus["a"].State)
	assert.Equal(t, HostError, final.HostsStatus["b"].State)
	assert.Equal(t, "unreachable", final.HostsStatus["b"].LastError)
	assert.Equal(t, HostOK, final.HostsStatus["c"].State)

	snap, _ := snaps.GetSnapshot(context.Background(), key)
	assert.Nil(t, snap.Data.VMData["b"], "never-succeeded host has no carried-over data")

	rec := health.Get("b")
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.NotNil(t, rec.CooldownUntil)
	assert.InDelta(t, 10*time.Minute, rec.CooldownUntil.Sub(*rec.LastErrorAt), float64(time.Second))
}

// S5 — all hosts fail on a never-successful fleet.
func TestJobRunner_S5_AllFailNeverSucceeded(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.fail("x", ErrKindAuthFailed, "bad credentials")

	jobs, snaps, health, runner := newTestCore(adapter, DefaultRunnerConfig())
	key := NewScopeKey(ScopeVMS, []string{"x"}, LevelSummary)
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	runner.Run(context.Background(), job)

	final, _ := jobs.Get(job.JobID)
	assert.Equal(t, JobFailed, final.Status)
	assert.Equal(t, HostError, final.HostsStatus["x"].State)

	snap, ok := snaps.GetSnapshot(context.Background(), key)
	require.True(t, ok)
	assert.Empty(t, snap.Data.VMData["x"])

	rec := health.Get("x")
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.InDelta(t, 10*time.Minute, rec.CooldownUntil.Sub(*rec.LastErrorAt), float64(time.Second))
}

// S6 — cooldown skip then recovery.
func TestJobRunner_S6_CooldownSkipThenRecovery(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.fail("b", ErrKindUnreachable, "down")

	jobs, _, health, runner := newTestCore(adapter, DefaultRunnerConfig())
	key := NewScopeKey(ScopeVMS, []string{"b"}, LevelSummary)

	job, err := jobs.CreateJob(key)
	require.NoError(t, err)
	runner.Run(context.Background(), job)
	assert.Equal(t, 1, adapter.callCount("b"))

	job2, err := jobs.CreateJob(key)
	require.NoError(t, err)
	runner.Run(context.Background(), job2)

	final2, _ := jobs.Get(job2.JobID)
	assert.Equal(t, HostStale, final2.HostsStatus["b"].State, "no prior success: STALE not SKIPPED_COOLDOWN")
	assert.Equal(t, "cooldown_active", final2.HostsStatus["b"].LastError)
	assert.Equal(t, 1, adapter.callCount("b"), "adapter must not be invoked while cooling down")

	rec := health.Get("b")
	assert.Equal(t, 1, rec.ConsecutiveFailures, "skipping a cooldown must not itself count as a failure")

	// expire the cooldown and arrange success.
	past := time.Now().Add(-time.Minute)
	health.SetCooldown("b", &past)
	adapter.succeed("b", []VMRecord{{ID: "1", Host: "b"}})

	job3, err := jobs.CreateJob(key)
	require.NoError(t, err)
	runner.Run(context.Background(), job3)

	final3, _ := jobs.Get(job3.JobID)
	assert.Equal(t, HostOK, final3.HostsStatus["b"].State)
	assert.Equal(t, 0, health.Get("b").ConsecutiveFailures)
}

// S7 — job deadline. A pool of 1 against 3 hosts (each taking 5s) forces
// the runner to serialize them so the deadline-short-circuit path
// (runHost step 1) actually fires for the hosts still queued behind the
// one in flight when the 2s job deadline passes.
func TestJobRunner_S7_JobDeadlineExpires(t *testing.T) {
	adapter := newFakeAdapter()
	for _, h := range []string{"h1", "h2", "h3"} {
		adapter.sleep(h, 5*time.Second, func(ctx context.Context) (CollectResult, *AdapterError) {
			return CollectResult{VMs: []VMRecord{{ID: "1", Host: h}}}, nil
		})
	}

	cfg := DefaultRunnerConfig()
	cfg.JobMaxDuration = 2 * time.Second
	cfg.HostTimeout = 10 * time.Second
	cfg.MaxConcurrencyPerScope = 1

	jobs, _, _, runner := newTestCore(adapter, cfg)
	key := NewScopeKey(ScopeVMS, []string{"h1", "h2", "h3"}, LevelSummary)
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	runner.Run(context.Background(), job)

	final, _ := jobs.Get(job.JobID)
	assert.Equal(t, JobExpired, final.Status)
	assert.Equal(t, "job_max_duration_reached", final.Message)

	pending := 0
	for _, st := range final.HostsStatus {
		if st.State == HostPending {
			pending++
		}
	}
	assert.Greater(t, pending, 0, "at least one host must remain PENDING when the job deadline expires mid-fleet")
}

// Invariant 8: no two runners concurrently execute the adapter call for the
// same lowercased host across different cores sharing a HostLockRegistry.
func TestHostLockRegistry_MutualExclusionAcrossCores(t *testing.T) {
	locks := NewHostLockRegistry()
	concurrent := 0
	maxConcurrent := 0
	var mu chanMutex

	adapterA := newFakeAdapter()
	adapterA.always("shared-host", mu.guarded(&concurrent, &maxConcurrent))
	adapterB := newFakeAdapter()
	adapterB.always("shared-host", mu.guarded(&concurrent, &maxConcurrent))

	jobsA := NewJobStore(nil)
	snapsA := NewSnapshotStore("vmware", nil, nil, nil, nil)
	healthA := NewHostHealthStore(nil)
	runnerA := NewJobRunner("vmware", jobsA, snapsA, healthA, locks, adapterA, nil, nil, DefaultRunnerConfig(), nil)

	jobsB := NewJobStore(nil)
	snapsB := NewSnapshotStore("ovirt", nil, nil, nil, nil)
	healthB := NewHostHealthStore(nil)
	runnerB := NewJobRunner("ovirt", jobsB, snapsB, healthB, locks, adapterB, nil, nil, DefaultRunnerConfig(), nil)

	key := NewScopeKey(ScopeVMS, []string{"shared-host"}, LevelSummary)
	jobA, _ := jobsA.CreateJob(key)
	jobB, _ := jobsB.CreateJob(key)

	done := make(chan struct{}, 2)
	go func() { runnerA.Run(context.Background(), jobA); done <- struct{}{} }()
	go func() { runnerB.Run(context.Background(), jobB); done <- struct{}{} }()
	<-done
	<-done

	assert.LessOrEqual(t, maxConcurrent, 1, "per-host lock must serialize adapter calls across cores (invariant 8)")
}

// chanMutex is a tiny helper building a guarded Collect closure for the
// mutual-exclusion test above.
type chanMutex struct {
	mu sync.Mutex
}

func (c *chanMutex) guarded(concurrent, maxConcurrent *int) func(ctx context.Context) (CollectResult, *AdapterError) {
	return func(ctx context.Context) (CollectResult, *AdapterError) {
		c.mu.Lock()
		*concurrent++
		if *concurrent > *maxConcurrent {
			*maxConcurrent = *concurrent
		}
		c.mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		c.mu.Lock()
		*concurrent--
		c.mu.Unlock()
		return CollectResult{VMs: []VMRecord{{ID: "1", Host: "shared-host"}}}, nil
	}
}
