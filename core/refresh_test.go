package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLaunch(ctx context.Context, job *Job) {}

// S2 — dedupe: two consecutive TriggerRefresh(force=false) calls within the
// refresh interval return the same synthesized cooldown-terminal job.
func TestRefreshPolicy_S2_Dedupe(t *testing.T) {
	jobs := NewJobStore(nil)
	snaps := NewSnapshotStore("vmware", nil, nil, nil, nil)
	cfg := DefaultRunnerConfig()
	sched := NewScheduler(jobs, cfg, nil, noopLaunch)
	policy := NewRefreshPolicy(jobs, snaps, sched, cfg)

	key := NewScopeKey(ScopeVMS, []string{"vc1"}, LevelSummary)
	snaps.UpsertHost(context.Background(), key, "vc1", UpsertHostArgs{
		VMs:         []VMRecord{{ID: "1", Host: "vc1"}},
		GeneratedAt: time.Now(),
		Status:      SnapshotHostStatus{State: HostOK},
	})

	j1, err := policy.TriggerRefresh(context.Background(), key, false)
	require.NoError(t, err)
	j2, err := policy.TriggerRefresh(context.Background(), key, false)
	require.NoError(t, err)

	assert.Equal(t, j1.JobID, j2.JobID)
	assert.Equal(t, "cooldown_active", j1.Message)
	assert.Equal(t, JobSucceeded, j1.Status)

	assert.Empty(t, jobs.ListJobsByStatus(JobPending), "no real job should be created for a cooldown-terminal request")
}

// S3 — forced refresh under cooldown creates a new job regardless of
// freshness.
func TestRefreshPolicy_S3_ForceBypassesCooldown(t *testing.T) {
	jobs := NewJobStore(nil)
	snaps := NewSnapshotStore("vmware", nil, nil, nil, nil)
	cfg := DefaultRunnerConfig()
	sched := NewScheduler(jobs, cfg, nil, noopLaunch)
	policy := NewRefreshPolicy(jobs, snaps, sched, cfg)

	key := NewScopeKey(ScopeVMS, []string{"vc1"}, LevelSummary)
	snaps.UpsertHost(context.Background(), key, "vc1", UpsertHostArgs{
		VMs:         []VMRecord{{ID: "1", Host: "vc1"}},
		GeneratedAt: time.Now(),
		Status:      SnapshotHostStatus{State: HostOK},
	})

	job, err := policy.TriggerRefresh(context.Background(), key, true)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)

	pending := jobs.ListJobsByStatus(JobPending)
	require.Len(t, pending, 1)
	assert.Equal(t, job.JobID, pending[0].JobID)
}

func TestRefreshPolicy_ActiveJobReturnedVerbatim(t *testing.T) {
	jobs := NewJobStore(nil)
	snaps := NewSnapshotStore("vmware", nil, nil, nil, nil)
	cfg := DefaultRunnerConfig()
	sched := NewScheduler(jobs, cfg, nil, noopLaunch)
	policy := NewRefreshPolicy(jobs, snaps, sched, cfg)

	key := NewScopeKey(ScopeVMS, []string{"vc1"}, LevelSummary)
	created, err := jobs.CreateJob(key)
	require.NoError(t, err)

	got, err := policy.TriggerRefresh(context.Background(), key, false)
	require.NoError(t, err)
	assert.Equal(t, created.JobID, got.JobID)
}
