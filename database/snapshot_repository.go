package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/vexxhost/invsentry/core"
)

// SnapshotRecord is the gorm model backing core.PersistenceBridge: one row per
// (provider, scope, hosts_key, level), holding the last-known-good snapshot as
// an opaque JSON blob so the schema doesn't need to change when SnapshotData
// grows new provider-specific fields.
type SnapshotRecord struct {
	ID          uint      `gorm:"primaryKey"`
	Provider    string    `gorm:"size:32;uniqueIndex:idx_snapshot_key"`
	Scope       string    `gorm:"size:16;uniqueIndex:idx_snapshot_key"`
	HostsKey    string    `gorm:"size:191;uniqueIndex:idx_snapshot_key"`
	Level       string    `gorm:"size:16;uniqueIndex:idx_snapshot_key"`
	// HostsSlug is a URL/filesystem-safe rendering of HostsKey for admin
	// tooling and log filtering; HostsKey stays the exact-match lookup key.
	HostsSlug   string `gorm:"size:191;index"`
	Payload     []byte `gorm:"type:longblob"`
	GeneratedAt time.Time
	UpdatedAt   time.Time
}

// TableName pins the table name so renaming the Go type doesn't migrate data.
func (SnapshotRecord) TableName() string { return "inventory_snapshots" }

// SnapshotRepository implements core.PersistenceBridge over SnapshotRecord.
type SnapshotRepository struct {
	conn Connection
}

// NewSnapshotRepository constructs a repository bound to conn.
func NewSnapshotRepository(conn Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// AutoMigrate creates/updates the backing table. Called once at startup.
func (r *SnapshotRepository) AutoMigrate() error {
	db := r.conn.GetGormDB()
	if db == nil {
		return nil
	}
	return db.AutoMigrate(&SnapshotRecord{})
}

// UpsertSnapshot implements core.PersistenceBridge. The generated_at column
// holds the time of this write, for StaleSnapshotLister's freshness query;
// the payload's own GeneratedAt stays inside the encoded blob.
func (r *SnapshotRepository) UpsertSnapshot(ctx context.Context, provider, scope, hostsKey, level string, blob []byte) error {
	db := r.conn.GetGormDB()
	if db == nil {
		return nil
	}

	generatedAt := time.Now()
	record := SnapshotRecord{
		Provider:    provider,
		Scope:       scope,
		HostsKey:    hostsKey,
		HostsSlug:   slug.Make(hostsKey),
		Level:       level,
		Payload:     blob,
		GeneratedAt: generatedAt,
	}

	return db.WithContext(ctx).
		Where(SnapshotRecord{Provider: provider, Scope: scope, HostsKey: hostsKey, Level: level}).
		Assign(SnapshotRecord{Payload: blob, GeneratedAt: generatedAt, HostsSlug: slug.Make(hostsKey)}).
		FirstOrCreate(&record).Error
}

// GetSnapshot implements core.PersistenceBridge.
func (r *SnapshotRepository) GetSnapshot(ctx context.Context, provider, scope, hostsKey, level string) ([]byte, bool, error) {
	db := r.conn.GetGormDB()
	if db == nil {
		return nil, false, nil
	}

	var record SnapshotRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND scope = ? AND hosts_key = ? AND level = ?", provider, scope, hostsKey, level).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record.Payload, true, nil
}

// JSONSnapshotCodec implements core.SnapshotCodec with plain encoding/json.
type JSONSnapshotCodec struct{}

func (JSONSnapshotCodec) Encode(payload *core.SnapshotPayload) ([]byte, error) {
	return json.Marshal(payload)
}

func (JSONSnapshotCodec) Decode(blob []byte) (*core.SnapshotPayload, error) {
	var payload core.SnapshotPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
