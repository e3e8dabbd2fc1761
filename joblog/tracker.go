package joblog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker provides job and step lifecycle management with integrated
// structured logging. One Tracker is shared process-wide across every
// core.Core instance; core.JobRunner reports into it through the
// AuditSink bridge in this package.
type Tracker struct {
	db      *sql.DB
	logger  *slog.Logger
	handler slog.Handler
	mu      sync.RWMutex
}

// New creates a job tracker writing to db and fanning log records out to
// handlers (zero handlers defaults to a JSON handler on stdout, multiple
// handlers are combined with FanoutHandler).
func New(db *sql.DB, handlers ...slog.Handler) *Tracker {
	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	case 1:
		handler = handlers[0]
	default:
		handler = NewFanoutHandler(handlers...)
	}

	return &Tracker{db: db, logger: slog.New(handler), handler: handler}
}

// StartJob creates a new job and returns a context carrying its ID.
func (t *Tracker) StartJob(ctx context.Context, input JobStart) (context.Context, string, error) {
	if err := input.Validate(); err != nil {
		return ctx, "", fmt.Errorf("invalid job start input: %w", err)
	}

	jobID := uuid.New().String()
	now := time.Now()

	var metadataJSON *string
	if input.Metadata != nil {
		if jsonBytes, err := json.Marshal(input.Metadata); err == nil {
			jsonStr := string(jsonBytes)
			metadataJSON = &jsonStr
		}
	}

	query := `
		INSERT INTO job_tracking (
			id, parent_job_id, job_type, operation, status,
			metadata, owner, started_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.db.ExecContext(ctx, query,
		jobID, input.ParentJobID, input.JobType, input.Operation, StatusRunning,
		metadataJSON, input.Owner, now, now, now,
	)
	if err != nil {
		return ctx, "", fmt.Errorf("failed to create job record: %w", err)
	}

	ctxWithJob := WithJobID(ctx, jobID)

	logger := t.Logger(ctxWithJob)
	logger.Info("job started",
		slog.String("job_id", jobID),
		slog.String("job_type", input.JobType),
		slog.String("operation", input.Operation),
		slog.Any("parent_job_id", input.ParentJobID),
		slog.Any("owner", input.Owner),
	)

	return ctxWithJob, jobID, nil
}

// EndJob completes a job with the given terminal status and optional error.
func (t *Tracker) EndJob(ctx context.Context, jobID string, status Status, err error) error {
	now := time.Now()

	var errorMessage *string
	if err != nil {
		errStr := err.Error()
		errorMessage = &errStr
	}

	var completedAt, canceledAt *time.Time
	if status.IsTerminal() {
		completedAt = &now
		if status == StatusCancelled {
			canceledAt = &now
		}
	}

	query := `
		UPDATE job_tracking
		SET status = ?, completed_at = ?, canceled_at = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	result, execErr := t.db.ExecContext(ctx, query, status, completedAt, canceledAt, errorMessage, now, jobID)
	if execErr != nil {
		return fmt.Errorf("failed to update job status: %w", execErr)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("job not found: %s", jobID)
	}

	logger := t.Logger(WithJobID(ctx, jobID))
	level, message := slog.LevelInfo, "job completed"
	switch status {
	case StatusFailed:
		level, message = slog.LevelError, "job failed"
	case StatusCancelled:
		level, message = slog.LevelWarn, "job cancelled"
	}
	logger.Log(ctx, level, message,
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.Any("error", errorMessage),
	)

	return nil
}

// MarkJobProgress updates a job's manually-reported percent completion.
func (t *Tracker) MarkJobProgress(ctx context.Context, jobID string, percent uint8) error {
	if percent > 100 {
		return fmt.Errorf("invalid percentage: %d (must be 0-100)", percent)
	}

	query := `UPDATE job_tracking SET percent_complete = ?, updated_at = ? WHERE id = ?`
	result, err := t.db.ExecContext(ctx, query, percent, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("job not found: %s", jobID)
	}

	t.Logger(WithJobID(ctx, jobID)).Debug("job progress updated",
		slog.String("job_id", jobID), slog.Int("percent", int(percent)))
	return nil
}

// StartStep creates a new step within a job.
func (t *Tracker) StartStep(ctx context.Context, jobID string, input StepStart) (context.Context, int64, error) {
	if err := input.Validate(); err != nil {
		return ctx, 0, fmt.Errorf("invalid step start input: %w", err)
	}

	if input.Seq == 0 {
		seq, err := t.getNextStepSequence(ctx, jobID)
		if err != nil {
			return ctx, 0, fmt.Errorf("failed to generate step sequence: %w", err)
		}
		input.Seq = seq
	}

	now := time.Now()
	var metadataJSON *string
	if input.Metadata != nil {
		if jsonBytes, err := json.Marshal(input.Metadata); err == nil {
			jsonStr := string(jsonBytes)
			metadataJSON = &jsonStr
		}
	}

	query := `
		INSERT INTO job_steps (job_id, name, seq, status, started_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := t.db.ExecContext(ctx, query, jobID, input.Name, input.Seq, StatusRunning, now, metadataJSON)
	if err != nil {
		return ctx, 0, fmt.Errorf("failed to create step record: %w", err)
	}
	stepID, err := result.LastInsertId()
	if err != nil {
		return ctx, 0, fmt.Errorf("failed to get step ID: %w", err)
	}

	ctxWithStep := WithStepID(WithJobID(ctx, jobID), stepID)
	t.Logger(ctxWithStep).Info("step started",
		slog.String("job_id", jobID),
		slog.Int64("step_id", stepID),
		slog.String("step_name", input.Name),
		slog.Int("sequence", input.Seq),
	)

	return ctxWithStep, stepID, nil
}

// EndStep completes a step with the given status and optional error.
func (t *Tracker) EndStep(stepID int64, status Status, err error) error {
	now := time.Now()

	var errorMessage *string
	if err != nil {
		errStr := err.Error()
		errorMessage = &errStr
	}

	var completedAt *time.Time
	if status.IsTerminal() || status == StatusSkipped {
		completedAt = &now
	}

	query := `UPDATE job_steps SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`
	result, execErr := t.db.ExecContext(context.Background(), query, status, completedAt, errorMessage, stepID)
	if execErr != nil {
		return fmt.Errorf("failed to update step status: %w", execErr)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("step not found: %d", stepID)
	}

	var jobID, stepName string
	row := t.db.QueryRowContext(context.Background(), `SELECT job_id, name FROM job_steps WHERE id = ?`, stepID)
	if scanErr := row.Scan(&jobID, &stepName); scanErr == nil {
		ctx := WithStepID(WithJobID(context.Background(), jobID), stepID)
		logger := t.Logger(ctx)
		level, message := slog.LevelInfo, "step completed"
		switch status {
		case StatusFailed:
			level, message = slog.LevelError, "step failed"
		case StatusSkipped:
			level, message = slog.LevelWarn, "step skipped"
		}
		logger.Log(context.Background(), level, message,
			slog.String("job_id", jobID),
			slog.Int64("step_id", stepID),
			slog.String("step_name", stepName),
			slog.String("status", string(status)),
			slog.Any("error", errorMessage),
		)
	}

	return nil
}

// RunStep runs fn as a tracked step, converting a panic to a failed step
// and re-raising nothing (the panic is captured, not propagated).
func (t *Tracker) RunStep(ctx context.Context, jobID string, name string, fn func(ctx context.Context) error) (retErr error) {
	stepCtx, stepID, err := t.StartStep(ctx, jobID, StepStart{Name: name})
	if err != nil {
		return fmt.Errorf("failed to start step: %w", err)
	}

	var stepErr error
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				stepErr = fmt.Errorf("panic in step %s: %w", name, v)
			case string:
				stepErr = fmt.Errorf("panic in step %s: %s", name, v)
			default:
				stepErr = fmt.Errorf("panic in step %s: %v", name, v)
			}
			t.Logger(stepCtx).Error("panic recovered in step",
				slog.String("step_name", name), slog.Any("panic", r))
			retErr = stepErr
		}

		status := StatusCompleted
		if stepErr != nil {
			status = StatusFailed
		}
		if endErr := t.EndStep(stepID, status, stepErr); endErr != nil {
			t.Logger(stepCtx).Error("failed to end step",
				slog.String("step_name", name), slog.String("error", endErr.Error()))
		}
	}()

	stepErr = fn(stepCtx)
	return stepErr
}

// Logger returns a logger enriched with job/step IDs found in ctx.
func (t *Tracker) Logger(ctx context.Context) *slog.Logger {
	logger := t.logger
	if jobID, ok := JobIDFromCtx(ctx); ok && jobID != "" {
		logger = logger.With(slog.String("job_id", jobID))
	}
	if stepID, ok := StepIDFromCtx(ctx); ok {
		logger = logger.With(slog.Int64("step_id", stepID))
	}
	return logger
}

// GetJob retrieves a job record by ID.
func (t *Tracker) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	query := `
		SELECT id, parent_job_id, job_type, operation, status, percent_complete,
		       metadata, error_message, owner, started_at, completed_at, canceled_at,
		       created_at, updated_at
		FROM job_tracking WHERE id = ?
	`
	var job JobRecord
	err := t.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.ParentJobID, &job.JobType, &job.Operation, &job.Status, &job.PercentComplete,
		&job.Metadata, &job.ErrorMessage, &job.Owner, &job.StartedAt, &job.CompletedAt, &job.CanceledAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobProgress returns step-completion progress for a job.
func (t *Tracker) GetJobProgress(ctx context.Context, jobID string) (*ProgressInfo, error) {
	query := `
		SELECT
			jt.id,
			COUNT(js.id) as total_steps,
			COUNT(CASE WHEN js.status = 'completed' THEN 1 END) as completed_steps,
			COUNT(CASE WHEN js.status = 'failed' THEN 1 END) as failed_steps,
			COUNT(CASE WHEN js.status = 'running' THEN 1 END) as running_steps,
			COUNT(CASE WHEN js.status = 'skipped' THEN 1 END) as skipped_steps,
			jt.percent_complete,
			jt.started_at,
			MAX(js.started_at) as last_activity,
			TIMESTAMPDIFF(SECOND, jt.started_at, NOW()) as runtime_seconds
		FROM job_tracking jt
		LEFT JOIN job_steps js ON jt.id = js.job_id
		WHERE jt.id = ?
		GROUP BY jt.id, jt.percent_complete, jt.started_at
	`

	var info ProgressInfo
	var lastActivity sql.NullTime
	err := t.db.QueryRowContext(ctx, query, jobID).Scan(
		&info.JobID, &info.TotalSteps, &info.CompletedSteps, &info.FailedSteps,
		&info.RunningSteps, &info.SkippedSteps, &info.ManualCompletion, &info.StartedAt,
		&lastActivity, &info.RuntimeSeconds,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job progress: %w", err)
	}
	if lastActivity.Valid {
		info.LastActivity = &lastActivity.Time
	}
	if info.TotalSteps > 0 {
		info.StepCompletion = float64(info.CompletedSteps+info.SkippedSteps) / float64(info.TotalSteps) * 100
	}
	return &info, nil
}

func (t *Tracker) getNextStepSequence(ctx context.Context, jobID string) (int, error) {
	var nextSeq int
	err := t.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM job_steps WHERE job_id = ?`, jobID).Scan(&nextSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get next step sequence: %w", err)
	}
	return nextSeq, nil
}

// Close shuts down the tracker's handler(s), flushing any pending writes.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dbHandler, ok := t.handler.(*DBHandler); ok {
		return dbHandler.Close()
	}
	if fanoutHandler, ok := t.handler.(*FanoutHandler); ok {
		for _, handler := range fanoutHandler.handlers {
			if dbHandler, ok := handler.(*DBHandler); ok {
				dbHandler.Close()
			}
		}
	}
	return nil
}
