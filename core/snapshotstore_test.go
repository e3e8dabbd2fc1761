package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBridge struct {
	blobs map[string][]byte
}

func newMemBridge() *memBridge { return &memBridge{blobs: make(map[string][]byte)} }

func (b *memBridge) key(provider, scope, hostsKey, level string) string {
	return provider + "|" + scope + "|" + hostsKey + "|" + level
}

func (b *memBridge) UpsertSnapshot(ctx context.Context, provider, scope, hostsKey, level string, payload []byte) error {
	b.blobs[b.key(provider, scope, hostsKey, level)] = payload
	return nil
}

func (b *memBridge) GetSnapshot(ctx context.Context, provider, scope, hostsKey, level string) ([]byte, bool, error) {
	blob, ok := b.blobs[b.key(provider, scope, hostsKey, level)]
	return blob, ok, nil
}

// identityCodec round-trips through its own in-memory map keyed by a
// counter, avoiding a real encoding dependency in this narrow test seam.
type identityCodec struct {
	store map[string]*SnapshotPayload
	seq   int
}

func newIdentityCodec() *identityCodec { return &identityCodec{store: make(map[string]*SnapshotPayload)} }

func (c *identityCodec) Encode(p *SnapshotPayload) ([]byte, error) {
	c.seq++
	id := string(rune('a' + c.seq%26))
	c.store[id] = p.Clone()
	return []byte(id), nil
}

func (c *identityCodec) Decode(b []byte) (*SnapshotPayload, error) {
	return c.store[string(b)].Clone(), nil
}

func TestSnapshotStore_UpsertHost_PreservesDataOnNil(t *testing.T) {
	store := NewSnapshotStore("vmware", nil, nil, nil, nil)
	key := NewScopeKey(ScopeVMS, []string{"a"}, LevelSummary)

	vms := []VMRecord{{ID: "1", Name: "vm1", Host: "a"}}
	store.UpsertHost(context.Background(), key, "a", UpsertHostArgs{
		VMs:         vms,
		GeneratedAt: time.Now(),
		Status:      SnapshotHostStatus{State: HostOK},
	})

	store.UpsertHost(context.Background(), key, "a", UpsertHostArgs{
		VMs:         nil,
		GeneratedAt: time.Now(),
		Status:      SnapshotHostStatus{State: HostStale},
	})

	snap, ok := store.GetSnapshot(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, vms, snap.Data.VMData["a"], "data preservation under failure (spec invariant 5)")
	assert.Equal(t, HostStale, snap.HostsStatus["a"].State)
}

func TestSnapshotStore_GeneratedAtMonotonic(t *testing.T) {
	store := NewSnapshotStore("vmware", nil, nil, nil, nil)
	key := NewScopeKey(ScopeVMS, []string{"a"}, LevelSummary)

	t1 := time.Now()
	t2 := t1.Add(time.Second)

	store.UpsertHost(context.Background(), key, "a", UpsertHostArgs{GeneratedAt: t2, Status: SnapshotHostStatus{State: HostOK}})
	snap1, _ := store.GetSnapshot(context.Background(), key)

	store.UpsertHost(context.Background(), key, "a", UpsertHostArgs{GeneratedAt: t1, Status: SnapshotHostStatus{State: HostOK}})
	snap2, _ := store.GetSnapshot(context.Background(), key)

	assert.True(t, !snap2.GeneratedAt.Before(snap1.GeneratedAt), "generated_at must never regress (spec invariant 2)")
}

func TestSnapshotStore_MissFallsBackToPersistence(t *testing.T) {
	bridge := newMemBridge()
	codec := newIdentityCodec()
	store := NewSnapshotStore("vmware", bridge, codec, nil, nil)
	key := NewScopeKey(ScopeVMS, []string{"a"}, LevelSummary)

	store.UpsertHost(context.Background(), key, "a", UpsertHostArgs{
		VMs:         []VMRecord{{ID: "1", Host: "a"}},
		GeneratedAt: time.Now(),
		Status:      SnapshotHostStatus{State: HostOK},
	})

	fresh := NewSnapshotStore("vmware", bridge, codec, nil, nil)
	snap, ok := fresh.GetSnapshot(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, SourceDB, snap.Source)
}
