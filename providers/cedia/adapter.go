// Package cedia implements core.Adapter against the third-party CEDIA
// vCloud-like REST API. No CEDIA client appears in the example pack; per
// DESIGN.md this is the stdlib-justified exception, same rationale as
// providers/azure: a plain net/http REST client against a documented
// endpoint, no ecosystem SDK to reach for instead.
package cedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vexxhost/invsentry/core"
)

// Config is the CEDIA API endpoint configuration.
type Config struct {
	BaseURL  string
	APIToken string
}

type cediaVM struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type cediaListResponse struct {
	Items []cediaVM `json:"items"`
}

// Adapter implements core.Adapter for the CEDIA API; host is the single
// "cedia" aggregate identifier (the provider exposes one logical endpoint,
// not a fleet of per-host targets).
type Adapter struct {
	cfg    Config
	client *http.Client
}

// NewAdapter constructs an adapter against cfg.
func NewAdapter(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Collect(ctx context.Context, host string, level core.Level) (core.CollectResult, *core.AdapterError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/v1/vms", nil)
	if err != nil {
		return core.CollectResult{}, core.NewOtherError(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return core.CollectResult{}, core.NewUnreachableError()
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindAuthFailed, Message: fmt.Sprintf("cedia status %d", resp.StatusCode)}
	case http.StatusOK:
	default:
		return core.CollectResult{}, core.NewOtherError(fmt.Sprintf("cedia status %d", resp.StatusCode))
	}

	var parsed cediaListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return core.CollectResult{}, &core.AdapterError{Kind: core.ErrKindParseError, Message: err.Error()}
	}

	vms := make([]core.VMRecord, 0, len(parsed.Items))
	for _, v := range parsed.Items {
		vms = append(vms, core.VMRecord{ID: v.UUID, Name: v.Name, Host: host, Power: v.Status})
	}
	return core.CollectResult{VMs: vms}, nil
}
