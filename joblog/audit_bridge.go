package joblog

import (
	"context"
	"sync"

	"github.com/vexxhost/invsentry/core"
)

// AuditBridge adapts a Tracker to core.AuditSink: every core.Job transition
// becomes a joblog job/step, giving operators the same durable history and
// structured log trail the teacher's migration jobs get, for snapshot jobs
// instead of backup/replication jobs. One bridge is shared by every
// core.Core for a given provider process.
type AuditBridge struct {
	tracker *Tracker
	jobType string

	mu        sync.Mutex
	joblogIDs map[string]string // core job ID -> joblog job ID
	stepIDs   map[string]int64  // core job ID + "/" + host -> joblog step ID
}

// NewAuditBridge constructs a bridge that files every job under jobType
// (e.g. "inventory-snapshot-vmware").
func NewAuditBridge(tracker *Tracker, jobType string) *AuditBridge {
	return &AuditBridge{
		tracker:   tracker,
		jobType:   jobType,
		joblogIDs: make(map[string]string),
		stepIDs:   make(map[string]int64),
	}
}

// JobStarted implements core.AuditSink.
func (b *AuditBridge) JobStarted(ctx context.Context, job *core.Job) {
	_, joblogID, err := b.tracker.StartJob(ctx, JobStart{
		JobType:   b.jobType,
		Operation: job.ScopeKey.String(),
		Metadata: map[string]any{
			"core_job_id": job.JobID,
			"scope":       job.ScopeKey.Scope.String(),
			"hosts":       job.ScopeKey.Hosts,
			"level":       job.ScopeKey.Level.String(),
		},
	})
	if err != nil {
		b.tracker.Logger(ctx).Warn("failed to start joblog job for core job", "core_job_id", job.JobID, "error", err)
		return
	}

	b.mu.Lock()
	b.joblogIDs[job.JobID] = joblogID
	b.mu.Unlock()
}

// HostStepFinished implements core.AuditSink. Since host collection already
// finished by the time JobRunner calls this, the step is started and ended
// back to back rather than bracketing the call.
func (b *AuditBridge) HostStepFinished(ctx context.Context, job *core.Job, host string, status core.HostJobStatus) {
	b.mu.Lock()
	joblogID, ok := b.joblogIDs[job.JobID]
	b.mu.Unlock()
	if !ok {
		return
	}

	stepCtx, stepID, err := b.tracker.StartStep(ctx, joblogID, StepStart{
		Name: host,
		Metadata: map[string]any{
			"attempt": status.Attempt,
			"state":   status.State.String(),
		},
	})
	if err != nil {
		return
	}

	stepStatus, stepErr := hostStateToStepStatus(status)
	SafeEndStep(stepCtx, b.tracker, stepID, stepStatus, stepErr)
}

// JobFinished implements core.AuditSink.
func (b *AuditBridge) JobFinished(ctx context.Context, job *core.Job) {
	b.mu.Lock()
	joblogID, ok := b.joblogIDs[job.JobID]
	delete(b.joblogIDs, job.JobID)
	b.mu.Unlock()
	if !ok {
		return
	}

	status, jobErr := jobStateToStatus(job)
	SafeEndJob(ctx, b.tracker, joblogID, status, jobErr)
}

func hostStateToStepStatus(status core.HostJobStatus) (Status, error) {
	switch status.State {
	case core.HostOK:
		return StatusCompleted, nil
	case core.HostSkippedCooldown, core.HostStale:
		return StatusSkipped, nil
	default:
		if status.LastError != "" {
			return StatusFailed, errStep(status.LastError)
		}
		return StatusFailed, nil
	}
}

func jobStateToStatus(job *core.Job) (Status, error) {
	switch job.Status {
	case core.JobSucceeded:
		if job.Message != "" {
			return StatusCompleted, errStep(job.Message)
		}
		return StatusCompleted, nil
	case core.JobExpired:
		return StatusFailed, errStep("job_max_duration_reached")
	default:
		if job.Message != "" {
			return StatusFailed, errStep(job.Message)
		}
		return StatusFailed, nil
	}
}

type stepError string

func (e stepError) Error() string { return string(e) }

func errStep(msg string) error { return stepError(msg) }
