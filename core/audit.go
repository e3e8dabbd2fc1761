package core

import "context"

// AuditSink mirrors Job lifecycle transitions into a durable audit trail.
// JobStore/JobRunner remain authoritative in memory; AuditSink is a
// best-effort bridge, implemented by the joblog package in this module.
// A nil AuditSink is a valid no-op.
type AuditSink interface {
	JobStarted(ctx context.Context, job *Job)
	HostStepFinished(ctx context.Context, job *Job, host string, status HostJobStatus)
	JobFinished(ctx context.Context, job *Job)
}

type noopAuditSink struct{}

func (noopAuditSink) JobStarted(context.Context, *Job)                             {}
func (noopAuditSink) HostStepFinished(context.Context, *Job, string, HostJobStatus) {}
func (noopAuditSink) JobFinished(context.Context, *Job)                            {}

// NoopAuditSink is the zero-cost AuditSink used when no durable trail is
// configured.
var NoopAuditSink AuditSink = noopAuditSink{}
