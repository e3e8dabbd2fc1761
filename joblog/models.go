// Package joblog provides durable job/step lifecycle tracking and
// structured logging, shared by every core.Core instance as its
// core.AuditSink implementation.
package joblog

import (
	"context"
	"time"
)

// Status represents the possible states of jobs and steps.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// IsTerminal returns true if the status represents a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive returns true if the status represents an active state.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

func (s Status) String() string { return string(s) }

// JobStart contains the parameters for starting a new job.
type JobStart struct {
	ParentJobID *string `json:"parent_job_id,omitempty"`
	JobType     string  `json:"job_type"`
	Operation   string  `json:"operation"`
	Owner       *string `json:"owner,omitempty"`
	Metadata    any     `json:"metadata,omitempty"`
}

// Validate ensures the JobStart has required fields.
func (js *JobStart) Validate() error {
	if js.JobType == "" {
		return ErrInvalidJobType
	}
	if js.Operation == "" {
		return ErrInvalidOperation
	}
	return nil
}

// StepStart contains the parameters for starting a new step.
type StepStart struct {
	Name     string `json:"name"`
	Seq      int    `json:"seq"`
	Metadata any    `json:"metadata,omitempty"`
}

// Validate ensures the StepStart has required fields.
func (ss *StepStart) Validate() error {
	if ss.Name == "" {
		return ErrInvalidStepName
	}
	return nil
}

// JobRecord represents a job row in job_tracking.
type JobRecord struct {
	ID              string     `db:"id"`
	ParentJobID     *string    `db:"parent_job_id"`
	JobType         string     `db:"job_type"`
	Operation       string     `db:"operation"`
	Status          Status     `db:"status"`
	PercentComplete *uint8     `db:"percent_complete"`
	Metadata        *string    `db:"metadata"`
	ErrorMessage    *string    `db:"error_message"`
	Owner           *string    `db:"owner"`
	StartedAt       time.Time  `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	CanceledAt      *time.Time `db:"canceled_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// StepRecord represents a step row in job_steps.
type StepRecord struct {
	ID           int64      `db:"id"`
	JobID        string     `db:"job_id"`
	Name         string     `db:"name"`
	Seq          int        `db:"seq"`
	Status       Status     `db:"status"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage *string    `db:"error_message"`
	Metadata     *string    `db:"metadata"`
}

// LogRecord represents a log event row in log_events.
type LogRecord struct {
	ID      int64   `db:"id"`
	JobID   *string `db:"job_id"`
	StepID  *int64  `db:"step_id"`
	Level   string  `db:"level"`
	Message string  `db:"message"`
	Attrs   *string `db:"attrs"`
	Ts      time.Time `db:"ts"`
}

// ProgressInfo summarizes a job's step completion.
type ProgressInfo struct {
	JobID            string     `json:"job_id"`
	TotalSteps       int        `json:"total_steps"`
	CompletedSteps   int        `json:"completed_steps"`
	FailedSteps      int        `json:"failed_steps"`
	RunningSteps     int        `json:"running_steps"`
	SkippedSteps     int        `json:"skipped_steps"`
	StepCompletion   float64    `json:"step_completion_percentage"`
	ManualCompletion *uint8     `json:"manual_completion_percentage,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
	RuntimeSeconds   int64      `json:"runtime_seconds"`
}

// JobSummary bundles a job with its steps and computed progress.
type JobSummary struct {
	Job      JobRecord    `json:"job"`
	Steps    []StepRecord `json:"steps"`
	Progress ProgressInfo `json:"progress"`
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	jobIDKey  contextKey = "joblog_job_id"
	stepIDKey contextKey = "joblog_step_id"
)

// WithJobID adds a job ID to the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithStepID adds a step ID to the context.
func WithStepID(ctx context.Context, stepID int64) context.Context {
	return context.WithValue(ctx, stepIDKey, stepID)
}

// JobIDFromCtx extracts the job ID from the context.
func JobIDFromCtx(ctx context.Context) (string, bool) {
	jobID, ok := ctx.Value(jobIDKey).(string)
	return jobID, ok
}

// StepIDFromCtx extracts the step ID from the context.
func StepIDFromCtx(ctx context.Context) (int64, bool) {
	stepID, ok := ctx.Value(stepIDKey).(int64)
	return stepID, ok
}

// Common validation errors.
var (
	ErrInvalidJobType   = errValidation("job type cannot be empty")
	ErrInvalidOperation = errValidation("operation cannot be empty")
	ErrInvalidStepName  = errValidation("step name cannot be empty")
)

type validationError string

func (e validationError) Error() string { return string(e) }

func errValidation(msg string) error { return validationError(msg) }
