package core

import (
	"context"
	"sync"
	"time"
)

// WarmupHostsResolver returns the host list a warmup tick should target for
// a given scope. It exists to realize spec.md §4.7 and §9's Hyper-V
// coupling: HOSTS-scope warmup reuses the last VMS-scope host list, falling
// back to the provider-configured list when no VMS job has ever run.
type WarmupHostsResolver interface {
	HostsForScope(scope Scope, level Level, configured []string) []string
}

// staticHostsResolver always returns the provider-configured list; used by
// every provider except Hyper-V, whose HOSTS/VMS coupling needs state.
type staticHostsResolver struct{}

func (staticHostsResolver) HostsForScope(_ Scope, _ Level, configured []string) []string {
	return configured
}

// StaticHostsResolver is the default WarmupHostsResolver.
var StaticHostsResolver WarmupHostsResolver = staticHostsResolver{}

// HyperVHostsResolver implements the VMS/HOSTS coupling described in
// spec.md §9: it remembers the most recent VMS-scope host list and serves
// it back for HOSTS-scope warmup ticks.
type HyperVHostsResolver struct {
	mu           sync.RWMutex
	lastVMSHosts []string
}

// NewHyperVHostsResolver constructs an empty resolver (no VMS job has run
// yet, so HOSTS-scope warmup falls back to the configured list).
func NewHyperVHostsResolver() *HyperVHostsResolver {
	return &HyperVHostsResolver{}
}

// RememberVMSHosts records the host list used by the most recent VMS-scope
// job. Core does not call it, so a resolver that Core owns serves the
// configured list for every scope.
func (h *HyperVHostsResolver) RememberVMSHosts(hosts []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastVMSHosts = append([]string(nil), hosts...)
}

// HostsForScope returns the last-seen VMS host list for HOSTS scope (falling
// back to configured if none has been recorded yet); VMS scope always uses
// the configured list.
func (h *HyperVHostsResolver) HostsForScope(scope Scope, _ Level, configured []string) []string {
	if scope != ScopeHosts {
		return configured
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.lastVMSHosts) == 0 {
		return configured
	}
	return h.lastVMSHosts
}

// WarmupLoop is a singleton per (provider, scope) that periodically checks
// whether a refresh is due and, if so, creates a job and kicks the
// scheduler. Grounded on hyperv_router.py's _warmup_loop.
type WarmupLoop struct {
	scope      Scope
	level      Level
	configured []string
	enabled    func() bool
	resolver   WarmupHostsResolver
	refresh    *RefreshPolicy
	jobs       *JobStore
	snaps      *SnapshotStore
	cfg        RunnerConfig
	logger     Logger

	stop chan struct{}
	done chan struct{}
}

// NewWarmupLoop constructs a loop. enabled should reflect the provider's
// live Enabled/Configured configuration flags.
func NewWarmupLoop(scope Scope, level Level, configured []string, enabled func() bool, resolver WarmupHostsResolver, refresh *RefreshPolicy, jobs *JobStore, snaps *SnapshotStore, cfg RunnerConfig, logger Logger) *WarmupLoop {
	if resolver == nil {
		resolver = StaticHostsResolver
	}
	if logger == nil {
		logger = NoopLogger
	}
	return &WarmupLoop{
		scope:      scope,
		level:      level,
		configured: configured,
		enabled:    enabled,
		resolver:   resolver,
		refresh:    refresh,
		jobs:       jobs,
		snaps:      snaps,
		cfg:        cfg.Normalize(),
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the loop until Stop is called. Interval is
// max(RefreshInterval, 10 minutes), per spec.md §4.7.
func (w *WarmupLoop) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *WarmupLoop) run(ctx context.Context) {
	defer close(w.done)
	interval := w.cfg.RefreshInterval
	if interval < 10*time.Minute {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (w *WarmupLoop) Stop() {
	close(w.stop)
	<-w.done
}

// tick implements the per-wake check. Errors are logged and never abort the
// loop.
func (w *WarmupLoop) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("warmup loop recovered from panic: %v", r)
		}
	}()

	if w.enabled != nil && !w.enabled() {
		return
	}

	hosts := w.resolver.HostsForScope(w.scope, w.level, w.configured)
	if len(hosts) == 0 {
		return
	}
	key := NewScopeKey(w.scope, hosts, w.level)

	if _, ok := w.jobs.GetActiveForScope(key); ok {
		return
	}
	if snap, ok := w.snaps.GetSnapshot(ctx, key); ok {
		if time.Since(snap.GeneratedAt) < w.cfg.RefreshInterval {
			return
		}
	}

	if _, err := w.refresh.TriggerRefresh(ctx, key, false); err != nil {
		w.logger.Warnf("warmup trigger_refresh failed: %v", err)
	}
}
