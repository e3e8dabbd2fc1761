// Package hyperv implements core.Adapter against Hyper-V hosts over remote
// PowerShell/WinRM. No WinRM client library appears anywhere in the example
// pack, so per DESIGN.md this stays an interface-and-seam: HostTransport is
// the narrow collaborator a real WinRM client would implement, and Adapter
// wires it into core.Adapter's contract the way the teacher wires its own
// narrow external collaborators (e.g. sna/vmware.PowerManager wraps
// govmomi).
package hyperv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vexxhost/invsentry/core"
)

// RemoteCreds mirrors the original Python implementation's
// app/providers/hyperv/remote.py dataclass of the same shape: per-host
// WinRM connection parameters.
type RemoteCreds struct {
	Host           string
	Username       string
	Password       string
	Transport      string // ntlm|kerberos|credssp
	Port           int
	Scheme         string // http|https
	ReadTimeoutSec int
	ConnectTimeoutSec int
	Retries        int
}

// DefaultRemoteCreds fills in the original's documented defaults.
func DefaultRemoteCreds(host string) RemoteCreds {
	return RemoteCreds{
		Host:              host,
		Transport:         "ntlm",
		Port:              5985,
		Scheme:            "http",
		ReadTimeoutSec:    60,
		ConnectTimeoutSec: 10,
		Retries:           2,
	}
}

// HostTransport is the narrow seam a real WinRM client implements: run a
// PowerShell script remotely and return its stdout or a transport error.
type HostTransport interface {
	RunScript(ctx context.Context, creds RemoteCreds, script string) (stdout []byte, err error)
}

// inventoryScript is the PowerShell payload the original collects via;
// named here only as the contract, not executed without a real
// HostTransport.
const inventoryScript = "collect_hyperv_inventory.ps1"

// Adapter implements core.Adapter for Hyper-V by running inventoryScript
// over HostTransport and parsing its JSON stdout into normalized records.
type Adapter struct {
	transport HostTransport
	creds     map[string]RemoteCreds
}

// NewAdapter constructs an adapter. transport is typically nil in
// environments with no WinRM client wired (see package doc); Collect then
// always returns ErrKindOther so the state machine still exercises
// correctly in tests.
func NewAdapter(transport HostTransport, creds map[string]RemoteCreds) *Adapter {
	return &Adapter{transport: transport, creds: creds}
}

func (a *Adapter) Collect(ctx context.Context, host string, level core.Level) (core.CollectResult, *core.AdapterError) {
	if a.transport == nil {
		return core.CollectResult{}, core.NewOtherError("hyperv transport not configured")
	}
	creds, ok := a.creds[host]
	if !ok {
		creds = DefaultRemoteCreds(host)
	}

	out, err := a.transport.RunScript(ctx, creds, inventoryScript)
	if err != nil {
		return core.CollectResult{}, classifyTransportError(err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(out, &rows); err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindParseError, Message: err.Error()}
	}

	vms := make([]core.VMRecord, 0, len(rows))
	for _, row := range rows {
		name, _ := row["Name"].(string)
		state, _ := row["State"].(string)
		vms = append(vms, core.VMRecord{ID: name, Name: name, Host: host, Power: state, Extra: row})
	}
	return core.CollectResult{VMs: vms}, nil
}

// classifyTransportError mirrors remote.py's _is_unreachable_exception: a
// WinRM transport failure whose message mentions connection/timeout
// vocabulary is classified Unreachable, everything else Other.
func classifyTransportError(err error) *core.AdapterError {
	msg := err.Error()
	tokens := []string{"connect", "connection", "timed out", "timeout", "refused", "unreachable", "no route"}
	for _, t := range tokens {
		if containsFold(msg, t) {
			return core.NewUnreachableError()
		}
	}
	return core.NewOtherError(fmt.Sprintf("winrm: %s", msg))
}

func containsFold(s, substr string) bool {
	sl, subl := len(s), len(substr)
	for i := 0; i+subl <= sl; i++ {
		if eqFold(s[i:i+subl], substr) {
			return true
		}
	}
	return false
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
