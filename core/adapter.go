package core

import "context"

// CollectResult is the provider-specific result of one Adapter.Collect call.
// Exactly one of VMs/HostRecord is populated, matching the ScopeKey's scope.
type CollectResult struct {
	VMs        []VMRecord
	HostRecord *HostRecord
}

// Adapter is the pluggable contract an upstream provider implements: given a
// host and detail level, return a normalized result or a tagged error. The
// adapter is responsible for honoring ctx's deadline; the runner still
// enforces its own wall-clock timeout regardless, per spec.md §6.
type Adapter interface {
	Collect(ctx context.Context, host string, level Level) (CollectResult, *AdapterError)
}
