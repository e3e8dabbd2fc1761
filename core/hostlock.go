package core

import "sync"

// HostLockRegistry is a process-global, per-lowercased-host mutex map,
// shared across every provider core so that two cores targeting the same
// physical host never race its adapter calls. Constructed once at startup
// and injected into every JobRunner, per spec.md §9's redesign of the
// source's module-level global lock dict.
type HostLockRegistry struct {
	locks sync.Map // string -> *sync.Mutex
}

// NewHostLockRegistry constructs an empty registry.
func NewHostLockRegistry() *HostLockRegistry {
	return &HostLockRegistry{}
}

func (r *HostLockRegistry) lockFor(host string) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(host, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Lock blocks until host's lock is acquired. Callers must call Unlock with
// the same host string.
func (r *HostLockRegistry) Lock(host string) {
	r.lockFor(host).Lock()
}

// Unlock releases host's lock.
func (r *HostLockRegistry) Unlock(host string) {
	r.lockFor(host).Unlock()
}
