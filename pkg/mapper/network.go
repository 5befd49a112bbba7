package mapper

import (
	"context"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
)

// Network payload keys
const (
	NetworkKey  = "network"
	NetworksKey = "networks"
)

type networkRequest struct {
	Name                *string `json:"name"`
	MTU                 *int    `json:"mtu"`
	PortSecurityEnabled *bool   `json:"port_security_enabled"`
	PhysicalNetwork     *string `json:"provider:physical_network"`
	NetworkType         *string `json:"provider:network_type"`
	SegmentationID      *int    `json:"provider:segmentation_id"`
	AdminStateUp        *bool   `json:"admin_state_up"`
}

var networkOptional = []string{
	"mtu", "port_security_enabled", "admin_state_up",
	"provider:physical_network", "provider:network_type", "provider:segmentation_id",
}

var (
	addNetworkKeys    = Keys{Mandatory: []string{"name"}, Optional: optional(networkOptional, tenantKeys)}
	updateNetworkKeys = Keys{Optional: optional([]string{"name"}, networkOptional)}
)

// NetworkResponse is the REST form of a network.
type NetworkResponse struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	TenantID            string  `json:"tenant_id"`
	ProjectID           string  `json:"project_id"`
	Status              string  `json:"status"`
	AdminStateUp        bool    `json:"admin_state_up"`
	MTU                 *int    `json:"mtu,omitempty"`
	PortSecurityEnabled bool    `json:"port_security_enabled"`
	PhysicalNetwork     *string `json:"provider:physical_network,omitempty"`
	NetworkType         *string `json:"provider:network_type,omitempty"`
	SegmentationID      *int    `json:"provider:segmentation_id,omitempty"`
}

func (m *Mapper) validateNetwork(req *networkRequest, add bool) error {
	if req.MTU != nil {
		if *req.MTU <= 0 {
			return errInvalidInput("mtu", "%d is not a valid MTU", *req.MTU)
		}
		if m.maxMTU > 0 && *req.MTU > m.maxMTU {
			return errInvalidInput("mtu", "%d is larger than the maximum allowed MTU %d", *req.MTU, m.maxMTU)
		}
	}
	if req.SegmentationID != nil && (*req.SegmentationID < 1 || *req.SegmentationID > 4094) {
		return errInvalidInput("provider:segmentation_id", "%d is not a valid VLAN tag", *req.SegmentationID)
	}
	if add && (req.PhysicalNetwork != nil || req.NetworkType != nil || req.SegmentationID != nil) {
		return neutron.ValidateProviderNetwork(lo.FromPtr(req.PhysicalNetwork), lo.FromPtr(req.NetworkType), req.SegmentationID)
	}
	return nil
}

func networkArgs(req *networkRequest) neutron.NetworkArgs {
	return neutron.NetworkArgs{
		Name:         req.Name,
		Localnet:     req.PhysicalNetwork,
		NetworkType:  req.NetworkType,
		VLAN:         req.SegmentationID,
		MTU:          req.MTU,
		PortSecurity: req.PortSecurityEnabled,
	}
}

// RenderNetwork builds the REST form of n.
func (m *Mapper) RenderNetwork(n *neutron.Network) interface{} {
	resp := &NetworkResponse{
		ID:                  n.ID(),
		Name:                n.Name(),
		TenantID:            m.tenantID,
		ProjectID:           m.tenantID,
		Status:              StatusActive,
		AdminStateUp:        true,
		MTU:                 n.MTU(),
		PortSecurityEnabled: n.PortSecurityEnabled(),
	}
	if n.Localnet != nil {
		physnet, networkType, vlan := n.ProviderNetwork()
		resp.PhysicalNetwork = &physnet
		resp.NetworkType = &networkType
		resp.SegmentationID = vlan
	}
	return resp
}

// ListNetworks serves GET networks.
func (m *Mapper) ListNetworks(ctx context.Context) (interface{}, error) {
	networks, err := m.api.ListNetworks(ctx)
	return List(NetworksKey, networks, err, m.RenderNetwork)
}

// GetNetwork serves GET networks/{id}.
func (m *Mapper) GetNetwork(ctx context.Context, id string) (interface{}, error) {
	n, err := m.api.GetNetwork(ctx, id)
	return One(NetworkKey, n, err, m.RenderNetwork)
}

// AddNetwork serves POST networks.
func (m *Mapper) AddNetwork(ctx context.Context, body []byte) (interface{}, error) {
	return Run(Operation[networkRequest, *neutron.Network]{
		Key:  NetworkKey,
		Keys: addNetworkKeys,
		Validate: func(req *networkRequest, _ Fields) error {
			return m.validateNetwork(req, true)
		},
		Call: func(req *networkRequest, _ Fields) (*neutron.Network, error) {
			return m.api.AddNetwork(ctx, networkArgs(req))
		},
		Render: m.RenderNetwork,
	}, body)
}

// UpdateNetwork serves PUT networks/{id}.
func (m *Mapper) UpdateNetwork(ctx context.Context, id string, body []byte) (interface{}, error) {
	return Run(Operation[networkRequest, *neutron.Network]{
		Key:  NetworkKey,
		Keys: updateNetworkKeys,
		Validate: func(req *networkRequest, _ Fields) error {
			return m.validateNetwork(req, false)
		},
		Call: func(req *networkRequest, _ Fields) (*neutron.Network, error) {
			return m.api.UpdateNetwork(ctx, id, networkArgs(req))
		},
		Render: m.RenderNetwork,
	}, body)
}

// DeleteNetwork serves DELETE networks/{id}.
func (m *Mapper) DeleteNetwork(ctx context.Context, id string) error {
	return m.api.DeleteNetwork(ctx, id)
}
