package logging

import (
	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/invsentry/core"
)

// CoreLogger adapts a logrus entry to core.Logger, the narrow interface
// core.Scheduler/core.JobRunner/core.WarmupLoop log through. Distinct from
// OperationLogger: this is the plain four-method seam components hold by
// default, while OperationLogger/OperationContext/StepContext are reached
// for when a call site wants correlation IDs and step-duration tracking.
type CoreLogger struct {
	entry *log.Entry
}

// NewCoreLogger wraps fields into a logrus entry implementing core.Logger.
func NewCoreLogger(fields log.Fields) *CoreLogger {
	return &CoreLogger{entry: log.WithFields(fields)}
}

var _ core.Logger = (*CoreLogger)(nil)

func (l *CoreLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *CoreLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *CoreLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *CoreLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// PersistenceLogger adapts a logrus entry to core.PersistenceLogger, used by
// core.SnapshotStore to report best-effort persistence failures.
type PersistenceLogger struct {
	entry *log.Entry
}

// NewPersistenceLogger constructs a PersistenceLogger.
func NewPersistenceLogger(fields log.Fields) *PersistenceLogger {
	return &PersistenceLogger{entry: log.WithFields(fields)}
}

var _ core.PersistenceLogger = (*PersistenceLogger)(nil)

// WarnPersistFailure implements core.PersistenceLogger.
func (l *PersistenceLogger) WarnPersistFailure(key core.ScopeKey, err error) {
	l.entry.WithFields(log.Fields{
		"scope":     key.Scope.String(),
		"hosts_key": key.HostsKey(),
		"level":     key.Level.String(),
		"error":     err.Error(),
	}).Warn("snapshot persistence failed, continuing with in-memory copy")
}
