// Package azure implements core.Adapter against Azure Resource Manager. No
// Azure SDK appears in the example pack; per DESIGN.md this is the
// stdlib-justified exception (net/http REST calls against ARM's documented
// endpoints, no SDK in the pack to reach for instead).
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vexxhost/invsentry/core"
)

// Config is the per-subscription ARM configuration.
type Config struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
	BaseURL        string // override for testing; defaults to management.azure.com
}

// Adapter implements core.Adapter for Azure; host in Collect is the
// resource group name (Azure aggregates at subscription/resource-group
// granularity rather than per-physical-host).
type Adapter struct {
	cfg    Config
	client *http.Client
	token  func(ctx context.Context) (string, error)
}

// NewAdapter constructs an adapter. token supplies a bearer token per call
// (an OAuth client-credentials exchange in production); tests can stub it.
func NewAdapter(cfg Config, client *http.Client, token func(ctx context.Context) (string, error)) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://management.azure.com"
	}
	return &Adapter{cfg: cfg, client: client, token: token}
}

type armVM struct {
	Name       string `json:"name"`
	Properties struct {
		ProvisioningState string `json:"provisioningState"`
	} `json:"properties"`
}

type armListResponse struct {
	Value []armVM `json:"value"`
}

func (a *Adapter) Collect(ctx context.Context, host string, level core.Level) (core.CollectResult, *core.AdapterError) {
	if a.token == nil {
		return core.CollectResult{}, core.NewOtherError("azure token provider not configured")
	}
	tok, err := a.token(ctx)
	if err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindAuthFailed, Message: err.Error()}
	}

	url := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines?api-version=2023-09-01",
		a.cfg.BaseURL, a.cfg.SubscriptionID, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.CollectResult{}, core.NewOtherError(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := a.client.Do(req)
	if err != nil {
		return core.CollectResult{}, classifyHTTPError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindAuthFailed, Message: fmt.Sprintf("arm status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return core.CollectResult{}, core.NewOtherError(fmt.Sprintf("arm status %d", resp.StatusCode))
	}

	var parsed armListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindParseError, Message: err.Error()}
	}

	vms := make([]core.VMRecord, 0, len(parsed.Value))
	for _, v := range parsed.Value {
		vms = append(vms, core.VMRecord{ID: v.Name, Name: v.Name, Host: host, Power: v.Properties.ProvisioningState})
	}
	return core.CollectResult{VMs: vms}, nil
}

func classifyHTTPError(err error) *core.AdapterError {
	return core.NewUnreachableError()
}
