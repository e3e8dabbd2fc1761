// Package api exposes spec.md §6's four operations over HTTP: a deliberately
// thin surface over core.Core, the way the teacher's api package is a thin
// surface over its database/services layer.
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/vexxhost/invsentry/core"
)

// Facade is the typed interface spec.md §6 describes: TriggerRefresh,
// GetJob, GetSnapshot, Shutdown, dispatched by provider name to a
// core.Core. The registry is keyed on provider alone, so it holds one Core
// per provider; a later Core with the same Provider replaces an earlier
// one, and scope and level are whatever that Core was built with.
type Facade interface {
	TriggerRefresh(ctx context.Context, provider string, hosts []string, force bool) (*core.Job, error)
	GetJob(provider, jobID string) (*core.Job, bool, error)
	GetSnapshot(ctx context.Context, provider string, hosts []string) (*core.SnapshotPayload, bool, error)
	Shutdown(ctx context.Context) error
}

// ErrUnknownProvider is returned when a request names a provider this
// process has no core.Core for.
var ErrUnknownProvider = fmt.Errorf("unknown or unconfigured provider")

// registry implements Facade over a fixed set of core.Core instances, one
// per configured provider, built once at startup.
type registry struct {
	mu    sync.RWMutex
	cores map[string]*core.Core
}

// NewRegistry builds a Facade over the given cores, keyed by their own
// Provider field.
func NewRegistry(cores ...*core.Core) Facade {
	r := &registry{cores: make(map[string]*core.Core, len(cores))}
	for _, c := range cores {
		r.cores[c.Provider] = c
	}
	return r
}

func (r *registry) get(provider string) (*core.Core, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cores[provider]
	return c, ok
}

// TriggerRefresh implements Facade.
func (r *registry) TriggerRefresh(ctx context.Context, provider string, hosts []string, force bool) (*core.Job, error) {
	c, ok := r.get(provider)
	if !ok {
		return nil, ErrUnknownProvider
	}
	return c.TriggerRefresh(ctx, hosts, force)
}

// GetJob implements Facade.
func (r *registry) GetJob(provider, jobID string) (*core.Job, bool, error) {
	c, ok := r.get(provider)
	if !ok {
		return nil, false, ErrUnknownProvider
	}
	job, found := c.GetJob(jobID)
	return job, found, nil
}

// GetSnapshot implements Facade.
func (r *registry) GetSnapshot(ctx context.Context, provider string, hosts []string) (*core.SnapshotPayload, bool, error) {
	c, ok := r.get(provider)
	if !ok {
		return nil, false, ErrUnknownProvider
	}
	snap, found := c.GetSnapshot(ctx, hosts)
	return snap, found, nil
}

// Shutdown implements Facade, stopping every registered Core.
func (r *registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cores {
		if err := c.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown %s: %w", c.Provider, err)
		}
	}
	return nil
}
