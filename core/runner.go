package core

import (
	"context"
	"sync"
	"time"
)

// JobRunner executes one job: fans out over the scope's hosts, enforces
// cooldowns and timeouts, updates JobStore and SnapshotStore, and
// finalizes. Grounded on hyperv_router.py's _run_job_scope_vms_inner /
// _run_job_scope_hosts_inner.
type JobRunner struct {
	provider string
	jobs     *JobStore
	snaps    *SnapshotStore
	health   *HostHealthStore
	locks    *HostLockRegistry
	adapter  Adapter
	audit    AuditSink
	logger   Logger
	cfg      RunnerConfig
	now      func() time.Time
	enabled  func() bool
}

// NewJobRunner wires the collaborators a runner needs. audit/logger may be
// nil (replaced with no-ops). enabled may also be nil, meaning the provider
// is always considered ready; non-nil, it is spec.md §7's readiness gate:
// "Provider disabled / not configured: the runner should not be invoked; if
// invoked, it finalizes immediately as FAILED with message
// 'provider_not_ready'." This covers the defense-in-depth case where a job
// was enqueued while the provider was ready and the provider became
// disabled (e.g. a config hot-reload) before the scheduler got to it.
func NewJobRunner(provider string, jobs *JobStore, snaps *SnapshotStore, health *HostHealthStore, locks *HostLockRegistry, adapter Adapter, audit AuditSink, logger Logger, cfg RunnerConfig, enabled func() bool) *JobRunner {
	if audit == nil {
		audit = NoopAuditSink
	}
	if logger == nil {
		logger = NoopLogger
	}
	return &JobRunner{
		provider: provider,
		jobs:     jobs,
		snaps:    snaps,
		health:   health,
		locks:    locks,
		adapter:  adapter,
		audit:    audit,
		logger:   logger,
		cfg:      cfg.Normalize(),
		now:      time.Now,
		enabled:  enabled,
	}
}

// Run executes job to completion (or deadline) and finalizes it. Safe to
// call from the goroutine the Scheduler spawns.
func (r *JobRunner) Run(ctx context.Context, job *Job) {
	if r.enabled != nil && !r.enabled() {
		if final := RunForDisabledProvider(r.jobs, job, r.now()); final != nil {
			r.audit.JobFinished(ctx, final)
		}
		return
	}

	key := job.ScopeKey
	started := r.now()
	deadline := started.Add(r.cfg.JobMaxDuration)

	running, ok := r.jobs.UpdateJob(job.JobID, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &started
	})
	if !ok {
		return
	}
	r.audit.JobStarted(ctx, running)

	r.snaps.InitSnapshot(ctx, key)

	hosts := key.Hosts
	poolSize := r.cfg.MaxConcurrencyPerScope
	if poolSize > len(hosts) {
		poolSize = len(hosts)
	}
	if poolSize < 1 {
		poolSize = 1
	}

	var mu sync.Mutex
	hostsOK, hostsError := 0, 0

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range work {
				outcome := r.runHost(ctx, job.JobID, key, host, deadline)
				mu.Lock()
				switch outcome {
				case hostOutcomeOK:
					hostsOK++
				case hostOutcomeError:
					hostsError++
				}
				mu.Unlock()
			}
		}()
	}
	for _, h := range hosts {
		work <- h
	}
	close(work)
	wg.Wait()

	finished := r.now()
	status, message := finalize(finished, deadline, hostsOK, hostsError, r.currentSnapshotHasData(ctx, key))

	final, ok := r.jobs.UpdateJob(job.JobID, func(j *Job) {
		j.Status = status
		j.Message = message
		j.FinishedAt = &finished
	})
	if ok {
		r.audit.JobFinished(ctx, final)
	}
}

func (r *JobRunner) currentSnapshotHasData(ctx context.Context, key ScopeKey) bool {
	snap, ok := r.snaps.GetSnapshot(ctx, key)
	if !ok {
		return false
	}
	return snap.Data.hasData()
}

type hostOutcome int

const (
	hostOutcomeSkipped hostOutcome = iota
	hostOutcomeOK
	hostOutcomeError
)

// runHost implements spec.md §4.5.1's per-host state machine, evaluated in
// order at worker entry.
func (r *JobRunner) runHost(ctx context.Context, jobID string, key ScopeKey, host string, deadline time.Time) hostOutcome {
	now := r.now()

	// Step 1: expired slot.
	if !now.Before(deadline) {
		return hostOutcomeSkipped
	}

	// Step 2: cooldown gate.
	healthRec := r.health.Get(host)
	if healthRec.CooldownUntil != nil && healthRec.CooldownUntil.After(now) {
		return r.skipForCooldown(ctx, jobID, key, host, healthRec, now)
	}

	// Step 3: per-host lock, process-global and exclusive.
	r.locks.Lock(host)
	defer r.locks.Unlock(host)

	// Step 4: invoke the adapter.
	hostCtx, cancel := context.WithTimeout(ctx, r.cfg.HostTimeout)
	started := r.now()
	result, adapterErr := r.adapter.Collect(hostCtx, host, key.Level)
	cancel()
	elapsed := r.now().Sub(started)

	var (
		state      HostState
		errKind    ErrorKind
		errMessage string
		outcome    hostOutcome
	)

	switch {
	case adapterErr == nil && elapsed > r.cfg.HostTimeout:
		// Step 5: success but over wall-clock budget reclassifies as TIMEOUT.
		state = HostTimeout
		errKind = ErrKindTimeout
		errMessage = "host_timeout_exceeded"
		r.health.RecordFailure(host, &now, errKind, errMessage)
		outcome = hostOutcomeError
	case adapterErr == nil:
		state = HostOK
		r.health.RecordSuccess(host, nil)
		outcome = hostOutcomeOK
	default:
		// Step 6: failure classification.
		state = HostError
		if adapterErr.Kind == ErrKindTimeout {
			state = HostTimeout
		}
		errKind = adapterErr.Kind
		errMessage = adapterErr.normalizedMessage()
		r.health.RecordFailure(host, nil, errKind, errMessage)
		outcome = hostOutcomeError
	}

	// Step 7: post-lock STALE downgrade.
	postHealth := r.health.Get(host)
	if state == HostError && postHealth.LastSuccessAt != nil && r.now().Sub(*postHealth.LastSuccessAt) > r.cfg.RefreshInterval {
		state = HostStale
	}

	// Step 8: snapshot upsert.
	generatedAt := r.now()
	var vms []VMRecord
	var hostRec *HostRecord
	if outcome == hostOutcomeOK {
		vms = result.VMs
		hostRec = result.HostRecord
	}
	r.snaps.UpsertHost(ctx, key, host, UpsertHostArgs{
		VMs:        vms,
		HostRecord: hostRec,
		GeneratedAt: generatedAt,
		Status: SnapshotHostStatus{
			State:            state,
			LastSuccessAt:    postHealth.LastSuccessAt,
			LastErrorAt:      postHealth.LastErrorAt,
			CooldownUntil:    postHealth.CooldownUntil,
			LastJobID:        jobID,
			LastErrorType:    errKind,
			LastErrorMessage: errMessage,
		},
	})

	// Step 9: job host status.
	hostStatus, found := r.hostJobStatus(jobID, host)
	attempt := 0
	if found {
		attempt = hostStatus.Attempt
	}
	r.jobs.UpdateJob(jobID, func(j *Job) {
		j.HostsStatus[host] = HostJobStatus{
			State:          state,
			Attempt:        attempt + 1,
			LastStartedAt:  &started,
			LastFinishedAt: &generatedAt,
			LastError:      errMessage,
			CooldownUntil:  postHealth.CooldownUntil,
		}
	})
	if final, ok := r.jobs.Get(jobID); ok {
		r.audit.HostStepFinished(ctx, final, host, final.HostsStatus[host])
	}

	return outcome
}

func (r *JobRunner) hostJobStatus(jobID, host string) (HostJobStatus, bool) {
	j, ok := r.jobs.Get(jobID)
	if !ok {
		return HostJobStatus{}, false
	}
	st, ok := j.HostsStatus[host]
	return st, ok
}

// skipForCooldown implements spec.md §4.5.1 step 2's two sub-states:
// SKIPPED_COOLDOWN when the host had a recent success, STALE otherwise.
func (r *JobRunner) skipForCooldown(ctx context.Context, jobID string, key ScopeKey, host string, healthRec HostHealthRecord, now time.Time) hostOutcome {
	state := HostStale
	if healthRec.LastSuccessAt != nil && now.Sub(*healthRec.LastSuccessAt) <= r.cfg.RefreshInterval {
		state = HostSkippedCooldown
	}

	r.snaps.UpsertHost(ctx, key, host, UpsertHostArgs{
		// nil VMs/HostRecord preserve whatever was previously stored.
		GeneratedAt: now,
		Status: SnapshotHostStatus{
			State:            state,
			LastSuccessAt:    healthRec.LastSuccessAt,
			LastErrorAt:      healthRec.LastErrorAt,
			CooldownUntil:    healthRec.CooldownUntil,
			LastJobID:        jobID,
			LastErrorType:    healthRec.LastErrorType,
			LastErrorMessage: healthRec.LastErrorMessage,
		},
	})

	hostStatus, found := r.hostJobStatus(jobID, host)
	attempt := 0
	if found {
		attempt = hostStatus.Attempt
	}
	r.jobs.UpdateJob(jobID, func(j *Job) {
		j.HostsStatus[host] = HostJobStatus{
			State:         state,
			Attempt:       attempt + 1,
			LastError:     "cooldown_active",
			CooldownUntil: healthRec.CooldownUntil,
		}
	})
	if final, ok := r.jobs.Get(jobID); ok {
		r.audit.HostStepFinished(ctx, final, host, final.HostsStatus[host])
	}

	return hostOutcomeSkipped
}

// finalize implements spec.md §4.5.2's finalization rules.
func finalize(finishedAt, deadline time.Time, hostsOK, hostsError int, snapshotHasData bool) (JobState, string) {
	if !finishedAt.Before(deadline) {
		return JobExpired, "job_max_duration_reached"
	}
	if hostsOK == 0 {
		if snapshotHasData {
			return JobSucceeded, "partial"
		}
		return JobFailed, ""
	}
	if hostsError > 0 {
		return JobSucceeded, "partial"
	}
	return JobSucceeded, ""
}
