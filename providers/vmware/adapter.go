package vmware

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/vexxhost/invsentry/core"
)

// Adapter implements core.Adapter for a single vCenter, keyed by Config.Host
// as the ScopeKey host identifier. One Adapter instance is shared by every
// job; connections are established and torn down per Collect call so a
// slow/unreachable vCenter cannot pin a stale session across jobs.
type Adapter struct {
	mu      sync.Mutex
	configs map[string]Config // host -> config, keyed lowercase
}

// NewAdapter constructs an adapter over the given per-host configs.
func NewAdapter(configs map[string]Config) *Adapter {
	return &Adapter{configs: configs}
}

// Collect implements core.Adapter. level=DETAIL additionally fetches CPU
// count, memory size and guest IP address; level=SUMMARY only
// name/power-state/host.
func (a *Adapter) Collect(ctx context.Context, host string, level core.Level) (core.CollectResult, *core.AdapterError) {
	cfg, ok := a.configs[host]
	if !ok {
		return core.CollectResult{}, core.NewOtherError(fmt.Sprintf("no vcenter config for host %q", host))
	}

	client, err := a.connect(ctx, cfg)
	if err != nil {
		return core.CollectResult{}, classifyConnectError(err)
	}
	defer client.Logout(context.Background())

	finder := find.NewFinder(client.Client, true)
	dc, err := finder.Datacenter(ctx, cfg.Datacenter)
	if err != nil {
		return core.CollectResult{}, core.NewOtherError(fmt.Sprintf("datacenter %s: %v", cfg.Datacenter, err))
	}
	finder.SetDatacenter(dc)

	vms, err := finder.VirtualMachineList(ctx, "*")
	if err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindParseError, Message: err.Error()}
	}

	records, err := a.describeVMs(ctx, client, vms, level)
	if err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindParseError, Message: err.Error()}
	}

	log.WithFields(log.Fields{"host": host, "vm_count": len(records)}).Debug("vmware adapter collected inventory")
	return core.CollectResult{VMs: records}, nil
}

func (a *Adapter) connect(ctx context.Context, cfg Config) (*govmomi.Client, error) {
	u, err := url.Parse(fmt.Sprintf("https://%s/sdk", cfg.Host))
	if err != nil {
		return nil, err
	}
	u.User = url.UserPassword(cfg.Username, cfg.Password)
	return govmomi.NewClient(ctx, u, cfg.Insecure)
}

// describeVMs fetches normalized records for each VM through the property
// collector; level=DETAIL adds the hardware and guest properties,
// level=SUMMARY only the cheap runtime fields.
func (a *Adapter) describeVMs(ctx context.Context, client *govmomi.Client, vms []*object.VirtualMachine, level core.Level) ([]core.VMRecord, error) {
	if len(vms) == 0 {
		return nil, nil
	}

	refs := make([]types.ManagedObjectReference, len(vms))
	for i, vm := range vms {
		refs[i] = vm.Reference()
	}

	props := []string{"name", "runtime.powerState", "runtime.host"}
	if level == core.LevelDetail {
		props = append(props, "config.hardware.numCPU", "config.hardware.memoryMB", "guest.ipAddress")
	}

	pc := property.DefaultCollector(client.Client)
	var raw []mo.VirtualMachine
	if err := pc.Retrieve(ctx, refs, props, &raw); err != nil {
		return nil, err
	}

	out := make([]core.VMRecord, 0, len(raw))
	for _, v := range raw {
		rec := core.VMRecord{
			ID:    v.Reference().Value,
			Name:  v.Name,
			Power: string(v.Runtime.PowerState),
		}
		if level == core.LevelDetail && v.Config != nil {
			rec.Extra = map[string]any{
				"num_cpu":    v.Config.Hardware.NumCPU,
				"memory_mb":  v.Config.Hardware.MemoryMB,
			}
			if v.Guest != nil {
				rec.Extra["ip_address"] = v.Guest.IpAddress
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// HostAdapter implements core.Adapter for scope=HOSTS: one normalized
// HostRecord summarizing the vCenter's ESXi hosts per Collect call.
type HostAdapter struct {
	configs map[string]Config
}

// NewHostAdapter constructs a HOSTS-scope adapter over the given per-host
// (really, per-vCenter) configs.
func NewHostAdapter(configs map[string]Config) *HostAdapter {
	return &HostAdapter{configs: configs}
}

func (a *HostAdapter) Collect(ctx context.Context, host string, level core.Level) (core.CollectResult, *core.AdapterError) {
	cfg, ok := a.configs[host]
	if !ok {
		return core.CollectResult{}, core.NewOtherError(fmt.Sprintf("no vcenter config for host %q", host))
	}

	client, err := (&Adapter{}).connect(ctx, cfg)
	if err != nil {
		return core.CollectResult{}, classifyConnectError(err)
	}
	defer client.Logout(context.Background())

	finder := find.NewFinder(client.Client, true)
	dc, err := finder.Datacenter(ctx, cfg.Datacenter)
	if err != nil {
		return core.CollectResult{}, core.NewOtherError(fmt.Sprintf("datacenter %s: %v", cfg.Datacenter, err))
	}

	hosts, err := containerViewHosts(ctx, client, dc)
	if err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindParseError, Message: err.Error()}
	}

	status := "connected"
	if len(hosts) > 0 && hosts[0].Runtime.ConnectionState != types.HostSystemConnectionStateConnected {
		status = string(hosts[0].Runtime.ConnectionState)
	}
	rec := &core.HostRecord{Host: host, Name: cfg.Host, Status: status, Extra: map[string]any{"esxi_host_count": len(hosts)}}
	return core.CollectResult{HostRecord: rec}, nil
}

func containerViewHosts(ctx context.Context, client *govmomi.Client, dc *object.Datacenter) ([]mo.HostSystem, error) {
	m := view.NewManager(client.Client)
	v, err := m.CreateContainerView(ctx, dc.Reference(), []string{"HostSystem"}, true)
	if err != nil {
		return nil, err
	}
	defer v.Destroy(context.Background())

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, []string{"name", "runtime.connectionState", "summary.hardware"}, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func classifyConnectError(err error) *core.AdapterError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case isAuthError(msg):
		return &core.AdapterError{Kind: core.ErrKindAuthFailed, Message: msg}
	case isTimeoutError(msg):
		return &core.AdapterError{Kind: core.ErrKindTimeout, Message: msg}
	default:
		return core.NewUnreachableError()
	}
}

func isAuthError(msg string) bool {
	return containsAny(msg, "incorrect user name", "login failure", "permission", "NotAuthenticated")
}

func isTimeoutError(msg string) bool {
	return containsAny(msg, "context deadline exceeded", "i/o timeout")
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if len(n) > 0 && indexOfFold(haystack, n) >= 0 {
			return true
		}
	}
	return false
}

// indexOfFold is a tiny case-insensitive substring search; avoids pulling in
// strings.ToLower allocations in a hot error path for long messages.
func indexOfFold(s, substr string) int {
	sl, subl := len(s), len(substr)
	if subl == 0 || subl > sl {
		return -1
	}
	for i := 0; i+subl <= sl; i++ {
		if eqFold(s[i:i+subl], substr) {
			return i
		}
	}
	return -1
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
