package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHyperVHostsResolver_FallsBackUntilVMSHasRun(t *testing.T) {
	r := NewHyperVHostsResolver()
	configured := []string{"hv1", "hv2"}

	assert.Equal(t, configured, r.HostsForScope(ScopeHosts, LevelSummary, configured), "before any VMS job, HOSTS scope falls back to configured hosts")

	r.RememberVMSHosts([]string{"hv3"})
	assert.Equal(t, []string{"hv3"}, r.HostsForScope(ScopeHosts, LevelSummary, configured), "HOSTS scope reuses the last VMS host list once one exists")

	assert.Equal(t, configured, r.HostsForScope(ScopeVMS, LevelSummary, configured), "VMS scope always uses the configured list")
}

func TestStaticHostsResolver_AlwaysConfigured(t *testing.T) {
	configured := []string{"x"}
	assert.Equal(t, configured, StaticHostsResolver.HostsForScope(ScopeHosts, LevelSummary, configured))
}
