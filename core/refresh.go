package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// cooldownJobNamespace scopes the deterministic UUIDs synthesizeCooldownJob
// derives, so two repeated cooldown responses for the same (ScopeKey,
// GeneratedAt) share a JobID (spec.md §8 invariant 6) without colliding
// with JobStore's randomly-generated (v4) job ids.
var cooldownJobNamespace = uuid.MustParse("6f6d9b4d-6e9f-4e8f-9a9c-7b1f9f5b9a2d")

// RefreshPolicy translates a refresh request into one of: return the active
// job, return a synthesized cooldown-terminal job, or create a new job and
// notify the scheduler. Grounded on hyperv_router.py's
// trigger_hyperv_refresh.
type RefreshPolicy struct {
	jobs      *JobStore
	snaps     *SnapshotStore
	scheduler *Scheduler
	cfg       RunnerConfig
	now       func() time.Time
}

// NewRefreshPolicy wires the collaborators TriggerRefresh needs.
func NewRefreshPolicy(jobs *JobStore, snaps *SnapshotStore, scheduler *Scheduler, cfg RunnerConfig) *RefreshPolicy {
	return &RefreshPolicy{jobs: jobs, snaps: snaps, scheduler: scheduler, cfg: cfg.Normalize(), now: time.Now}
}

// TriggerRefresh implements spec.md §4.6.
func (p *RefreshPolicy) TriggerRefresh(ctx context.Context, key ScopeKey, force bool) (*Job, error) {
	if active, ok := p.jobs.GetActiveForScope(key); ok {
		return active, nil
	}

	if !force {
		if snap, ok := p.snaps.GetSnapshot(ctx, key); ok {
			now := p.now()
			if now.Sub(snap.GeneratedAt) < p.cfg.RefreshInterval {
				return p.synthesizeCooldownJob(key, snap), nil
			}
		}
	}

	job, err := p.jobs.CreateJob(key)
	if err != nil {
		return nil, err
	}
	p.scheduler.Notify()
	return job, nil
}

// synthesizeCooldownJob builds spec.md §4.6 step 2's informational,
// never-stored terminal job. The JobID is derived deterministically from
// (ScopeKey, snap.GeneratedAt) rather than randomly generated, so repeated
// calls within the same cooldown window return the same JobID (spec.md §8
// invariant 6: two consecutive force=false TriggerRefresh calls must return
// the same Job).
func (p *RefreshPolicy) synthesizeCooldownJob(key ScopeKey, snap *SnapshotPayload) *Job {
	until := snap.GeneratedAt.Add(p.cfg.RefreshInterval)
	hostsStatus := make(map[string]HostJobStatus, len(key.Hosts))
	finishedAt := snap.GeneratedAt
	for _, h := range key.Hosts {
		hostsStatus[h] = HostJobStatus{
			State:          HostOK,
			LastFinishedAt: &finishedAt,
		}
	}
	seed := key.String() + "|" + snap.GeneratedAt.UTC().Format(time.RFC3339Nano)
	j := &Job{
		JobID:         uuid.NewSHA1(cooldownJobNamespace, []byte(seed)).String(),
		ScopeKey:      key,
		Status:        JobSucceeded,
		CreatedAt:     snap.GeneratedAt,
		FinishedAt:    &finishedAt,
		LastHeartbeat: p.now(),
		Message:       "cooldown_active",
		CooldownUntil: &until,
		HostsStatus:   hostsStatus,
	}
	j.recomputeProgress()
	return j
}
