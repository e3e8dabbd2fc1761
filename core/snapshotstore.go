package core

import (
	"context"
	"sync"
	"time"
)

// PersistenceBridge is the narrow external collaborator SnapshotStore
// upserts into opportunistically. Implemented by the database package
// (gorm-backed); failures are caught and logged by the store and never
// unwind the in-memory update.
type PersistenceBridge interface {
	UpsertSnapshot(ctx context.Context, provider, scope, hostsKey, level string, payload []byte) error
	GetSnapshot(ctx context.Context, provider, scope, hostsKey, level string) ([]byte, bool, error)
}

// SnapshotCodec (de)serializes a SnapshotPayload for the persistence
// boundary; the core does not interpret the bytes beyond this.
type SnapshotCodec interface {
	Encode(*SnapshotPayload) ([]byte, error)
	Decode([]byte) (*SnapshotPayload, error)
}

// PersistenceLogger receives best-effort persistence failures; implemented
// by an adapted logrus entry in practice.
type PersistenceLogger interface {
	WarnPersistFailure(scopeKey ScopeKey, err error)
}

// SnapshotStore holds the latest per-scope snapshot with per-host
// addressable upsert, mirroring opportunistically to a PersistenceBridge.
// One instance per (provider, scope) core.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*SnapshotPayload
	provider  string
	bridge    PersistenceBridge
	codec     SnapshotCodec
	logger    PersistenceLogger
	now       func() time.Time
}

// NewSnapshotStore constructs a store for provider. bridge/codec/logger may
// be nil, in which case persistence is skipped entirely (useful for tests
// and for providers with no durable backing configured).
func NewSnapshotStore(provider string, bridge PersistenceBridge, codec SnapshotCodec, logger PersistenceLogger, nowFn func() time.Time) *SnapshotStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SnapshotStore{
		snapshots: make(map[string]*SnapshotPayload),
		provider:  provider,
		bridge:    bridge,
		codec:     codec,
		logger:    logger,
		now:       nowFn,
	}
}

// InitSnapshot allocates an empty snapshot with every host set to PENDING
// and persists it. Returns the existing snapshot if one is already present.
func (s *SnapshotStore) InitSnapshot(ctx context.Context, key ScopeKey) *SnapshotPayload {
	s.mu.Lock()
	k := key.String()
	if existing, ok := s.snapshots[k]; ok {
		s.mu.Unlock()
		return existing.Clone()
	}
	now := s.now()
	hostsStatus := make(map[string]SnapshotHostStatus, len(key.Hosts))
	for _, h := range key.Hosts {
		hostsStatus[h] = SnapshotHostStatus{State: HostPending}
	}
	payload := &SnapshotPayload{
		ScopeKey:    key,
		GeneratedAt: now,
		TotalHosts:  len(key.Hosts),
		HostsStatus: hostsStatus,
		Source:      SourceMemory,
	}
	s.snapshots[k] = payload
	out := payload.Clone()
	s.mu.Unlock()

	s.persist(ctx, key, out)
	return out
}

// UpsertHostArgs bundles upsert_host's optional fields (all zero values
// mean "unset" per spec.md §4.2).
type UpsertHostArgs struct {
	VMs         []VMRecord  // scope=VMS only; nil preserves prior data
	HostRecord  *HostRecord // scope=HOSTS only; nil preserves/placeholders
	Status      SnapshotHostStatus
	GeneratedAt time.Time
}

// UpsertHost locates or lazily creates the snapshot, replaces the host's
// data (preserving the prior value when the caller passes nil data, the
// cooldown/STALE carry-over path), updates HostsStatus[host], advances
// GeneratedAt monotonically, and then calls the persistence bridge with the
// full payload outside the lock.
func (s *SnapshotStore) UpsertHost(ctx context.Context, key ScopeKey, host string, args UpsertHostArgs) *SnapshotPayload {
	s.mu.Lock()
	k := key.String()
	payload, ok := s.snapshots[k]
	if !ok {
		hostsStatus := make(map[string]SnapshotHostStatus, len(key.Hosts))
		for _, h := range key.Hosts {
			hostsStatus[h] = SnapshotHostStatus{State: HostPending}
		}
		payload = &SnapshotPayload{ScopeKey: key, TotalHosts: len(key.Hosts), HostsStatus: hostsStatus, Source: SourceMemory}
		s.snapshots[k] = payload
	}

	switch key.Scope {
	case ScopeVMS:
		payload.Data.upsertHost(ScopeVMS, host, args.VMs, nil)
	case ScopeHosts:
		if args.HostRecord == nil && args.Status.State == HostStale {
			// placeholder slot so the entry exists, per spec.md §4.2's
			// "previously had no data" clause.
			payload.Data.upsertHost(ScopeHosts, host, nil, nil)
		} else if args.HostRecord != nil {
			payload.Data.upsertHost(ScopeHosts, host, nil, args.HostRecord)
		}
	}
	payload.HostsStatus[host] = args.Status
	if args.GeneratedAt.After(payload.GeneratedAt) {
		payload.GeneratedAt = args.GeneratedAt
	}
	out := payload.Clone()
	s.mu.Unlock()

	s.persist(ctx, key, out)
	return out
}

// GetSnapshot returns the in-memory copy tagged SourceMemory. On a memory
// miss it attempts to load from persistence; if found, the result is
// installed back into memory and the returned copy is tagged SourceDB.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, key ScopeKey) (*SnapshotPayload, bool) {
	s.mu.RLock()
	payload, ok := s.snapshots[key.String()]
	if ok {
		out := payload.Clone()
		s.mu.RUnlock()
		return out, true
	}
	s.mu.RUnlock()

	if s.bridge == nil || s.codec == nil {
		return nil, false
	}
	blob, found, err := s.bridge.GetSnapshot(ctx, s.provider, key.Scope.String(), key.HostsKey(), key.Level.String())
	if err != nil || !found {
		if err != nil && s.logger != nil {
			s.logger.WarnPersistFailure(key, err)
		}
		return nil, false
	}
	decoded, err := s.codec.Decode(blob)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnPersistFailure(key, err)
		}
		return nil, false
	}
	decoded.Source = SourceDB

	s.mu.Lock()
	if _, ok := s.snapshots[key.String()]; !ok {
		s.snapshots[key.String()] = decoded.Clone()
	}
	s.mu.Unlock()

	return decoded, true
}

// persist is always called outside s.mu; failures are caught and logged,
// never allowed to unwind the caller.
func (s *SnapshotStore) persist(ctx context.Context, key ScopeKey, payload *SnapshotPayload) {
	if s.bridge == nil || s.codec == nil {
		return
	}
	blob, err := s.codec.Encode(payload)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnPersistFailure(key, err)
		}
		return
	}
	if err := s.bridge.UpsertSnapshot(ctx, s.provider, key.Scope.String(), key.HostsKey(), key.Level.String(), blob); err != nil {
		if s.logger != nil {
			s.logger.WarnPersistFailure(key, err)
		}
	}
}
