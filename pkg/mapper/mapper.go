package mapper

import (
	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
)

// Statuses rendered for every resource.
const (
	StatusActive = "ACTIVE"
	StatusDown   = "DOWN"
)

// tenantKeys are accepted on every create payload and ignored: the provider
// serves a single tenant.
var tenantKeys = []string{"tenant_id", "project_id"}

// Mapper serves the Networking resources on top of a NeutronAPI.
type Mapper struct {
	api      *neutron.NeutronAPI
	tenantID string
	maxMTU   int
}

// New creates a Mapper. cfg supplies the tenant echoed in responses and
// the validation limits.
func New(api *neutron.NeutronAPI, cfg *config.Config) *Mapper {
	return &Mapper{
		api:      api,
		tenantID: cfg.Provider.TenantID,
		maxMTU:   cfg.Validation.MaxAllowedMTU,
	}
}

func optional(keys ...[]string) []string {
	var out []string
	for _, k := range keys {
		out = append(out, k...)
	}
	return out
}
