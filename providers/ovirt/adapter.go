// Package ovirt implements core.Adapter against an oVirt/RHV engine. No
// oVirt SDK appears in the example pack, so per DESIGN.md this stays an
// interface-and-seam built on a narrow EngineClient contract rather than a
// fabricated dependency.
package ovirt

import (
	"context"

	"github.com/vexxhost/invsentry/core"
)

// EngineClient is the narrow seam a real oVirt SDK/REST client implements.
type EngineClient interface {
	ListVMs(ctx context.Context, cluster string) ([]VM, error)
	ListHosts(ctx context.Context, cluster string) ([]Host, error)
}

// VM is the oVirt-shaped source record before normalization.
type VM struct {
	ID     string
	Name   string
	Status string
	Host   string
}

// Host is the oVirt-shaped source record before normalization.
type Host struct {
	ID      string
	Name    string
	Status  string
	Cluster string
}

// Adapter implements core.Adapter for oVirt via EngineClient; host in
// Collect is the cluster identifier.
type Adapter struct {
	client EngineClient
	scope  core.Scope
}

// NewVMSAdapter constructs a scope=VMS adapter.
func NewVMSAdapter(client EngineClient) *Adapter { return &Adapter{client: client, scope: core.ScopeVMS} }

// NewHostsAdapter constructs a scope=HOSTS adapter.
func NewHostsAdapter(client EngineClient) *Adapter {
	return &Adapter{client: client, scope: core.ScopeHosts}
}

func (a *Adapter) Collect(ctx context.Context, host string, level core.Level) (core.CollectResult, *core.AdapterError) {
	if a.client == nil {
		return core.CollectResult{}, core.NewOtherError("ovirt engine client not configured")
	}

	switch a.scope {
	case core.ScopeVMS:
		vms, err := a.client.ListVMs(ctx, host)
		if err != nil {
			return core.CollectResult{}, classifyError(err)
		}
		out := make([]core.VMRecord, 0, len(vms))
		for _, v := range vms {
			out = append(out, core.VMRecord{ID: v.ID, Name: v.Name, Host: v.Host, Power: v.Status})
		}
		return core.CollectResult{VMs: out}, nil
	default:
		hosts, err := a.client.ListHosts(ctx, host)
		if err != nil {
			return core.CollectResult{}, classifyError(err)
		}
		if len(hosts) == 0 {
			return core.CollectResult{HostRecord: &core.HostRecord{Host: host, Status: "unknown"}}, nil
		}
		h := hosts[0]
		return core.CollectResult{HostRecord: &core.HostRecord{Host: host, Name: h.Name, Status: h.Status}}, nil
	}
}

func classifyError(err error) *core.AdapterError {
	return core.NewOtherError(err.Error())
}
