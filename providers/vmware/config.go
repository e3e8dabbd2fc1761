// Package vmware implements core.Adapter against a live vCenter, grounded on
// the teacher's sna/vmware power-management client's connect/finder idiom.
package vmware

// Config is the per-vCenter connection configuration.
type Config struct {
	Host       string
	Username   string
	Password   string
	Datacenter string
	Insecure   bool
}
