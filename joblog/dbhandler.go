package joblog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DBHandler implements slog.Handler, writing records to log_events
// asynchronously through a bounded queue and background writer goroutines.
type DBHandler struct {
	db         *sql.DB
	level      slog.Level
	attrs      []slog.Attr
	groups     []string
	ch         chan *LogRecord
	stopCh     chan struct{}
	stopped    bool
	mu         sync.RWMutex
	wg         sync.WaitGroup
	queueSize  int
	dropOldest bool
}

// DBHandlerConfig configures a DBHandler.
type DBHandlerConfig struct {
	QueueSize   int
	Level       slog.Level
	DropOldest  bool
	WriterCount int
}

// DefaultDBHandlerConfig returns sensible defaults.
func DefaultDBHandlerConfig() *DBHandlerConfig {
	return &DBHandlerConfig{QueueSize: 10000, Level: slog.LevelInfo, DropOldest: true, WriterCount: 2}
}

// NewDBHandler constructs a handler writing to db per config.
func NewDBHandler(db *sql.DB, config *DBHandlerConfig) *DBHandler {
	if config == nil {
		config = DefaultDBHandlerConfig()
	}
	if config.WriterCount < 1 {
		config.WriterCount = 1
	}

	handler := &DBHandler{
		db:         db,
		level:      config.Level,
		ch:         make(chan *LogRecord, config.QueueSize),
		stopCh:     make(chan struct{}),
		queueSize:  config.QueueSize,
		dropOldest: config.DropOldest,
	}

	for i := 0; i < config.WriterCount; i++ {
		handler.wg.Add(1)
		go handler.writer()
	}

	return handler
}

// Enabled reports whether the handler handles records at level.
func (h *DBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return level >= h.level && !h.stopped
}

// Handle enqueues a log record, extracting job/step IDs from ctx.
func (h *DBHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.RLock()
	if h.stopped {
		h.mu.RUnlock()
		return nil
	}
	h.mu.RUnlock()

	jobID, _ := JobIDFromCtx(ctx)
	stepID, hasStepID := StepIDFromCtx(ctx)

	attrs := make(map[string]any)
	for _, attr := range h.attrs {
		attrs[attr.Key] = attr.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	var attrsJSON *string
	if len(attrs) > 0 {
		if jsonBytes, err := json.Marshal(attrs); err == nil {
			jsonStr := string(jsonBytes)
			attrsJSON = &jsonStr
		}
	}

	logRecord := &LogRecord{
		JobID:   stringPtr(jobID),
		Level:   levelToString(record.Level),
		Message: record.Message,
		Attrs:   attrsJSON,
		Ts:      record.Time,
	}
	if hasStepID {
		logRecord.StepID = &stepID
	}

	select {
	case h.ch <- logRecord:
	default:
		if h.dropOldest {
			select {
			case <-h.ch:
			default:
			}
			select {
			case h.ch <- logRecord:
			default:
			}
		} else {
			select {
			case h.ch <- logRecord:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// WithAttrs returns a new handler with attrs appended.
func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.RLock()
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	newGroups := make([]string, len(h.groups))
	copy(newGroups, h.groups)
	h.mu.RUnlock()

	return &DBHandler{
		db: h.db, level: h.level, attrs: newAttrs, groups: newGroups,
		ch: h.ch, stopCh: h.stopCh, queueSize: h.queueSize, dropOldest: h.dropOldest,
	}
}

// WithGroup returns a new handler with name appended to its group path.
func (h *DBHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h.mu.RLock()
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	newAttrs := make([]slog.Attr, len(h.attrs))
	copy(newAttrs, h.attrs)
	h.mu.RUnlock()

	return &DBHandler{
		db: h.db, level: h.level, attrs: newAttrs, groups: newGroups,
		ch: h.ch, stopCh: h.stopCh, queueSize: h.queueSize, dropOldest: h.dropOldest,
	}
}

// Close stops the handler and waits for pending writes to flush.
func (h *DBHandler) Close() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stopCh)
	close(h.ch)
	h.wg.Wait()
	return nil
}

func (h *DBHandler) writer() {
	defer h.wg.Done()

	stmt, err := h.db.Prepare(`
		INSERT INTO log_events (job_id, step_id, level, message, attrs, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		fmt.Printf("joblog: failed to prepare log insert statement: %v\n", err)
		return
	}
	defer stmt.Close()

	const batchSize = 100
	batch := make([]*LogRecord, 0, batchSize)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-h.ch:
			if !ok {
				if len(batch) > 0 {
					h.writeBatch(stmt, batch)
				}
				return
			}
			batch = append(batch, record)
			if len(batch) >= batchSize {
				h.writeBatch(stmt, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				h.writeBatch(stmt, batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			if len(batch) > 0 {
				h.writeBatch(stmt, batch)
			}
			return
		}
	}
}

func (h *DBHandler) writeBatch(stmt *sql.Stmt, batch []*LogRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		fmt.Printf("joblog: failed to start transaction for log batch: %v\n", err)
		return
	}
	defer tx.Rollback()

	txStmt := tx.StmtContext(ctx, stmt)
	for _, record := range batch {
		if _, err := txStmt.ExecContext(ctx, record.JobID, record.StepID, record.Level, record.Message, record.Attrs, record.Ts); err != nil {
			fmt.Printf("joblog: failed to insert log record: %v\n", err)
		}
	}

	if err := tx.Commit(); err != nil {
		fmt.Printf("joblog: failed to commit log batch transaction: %v\n", err)
	}
}

// GetQueueSize returns the current depth of the log queue.
func (h *DBHandler) GetQueueSize() int { return len(h.ch) }

// GetQueueCapacity returns the queue's configured capacity.
func (h *DBHandler) GetQueueCapacity() int { return h.queueSize }

// IsQueueFull reports whether the queue is at capacity.
func (h *DBHandler) IsQueueFull() bool { return len(h.ch) >= h.queueSize }

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func levelToString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

// FanoutHandler combines multiple slog.Handlers into one, so a Tracker can
// log to both stderr (text, for operators) and the database (for the job
// history API) simultaneously.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler constructs a FanoutHandler over handlers.
func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: newHandlers}
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &FanoutHandler{handlers: newHandlers}
}
