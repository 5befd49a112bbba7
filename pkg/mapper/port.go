package mapper

import (
	"context"
	"encoding/json"
	"net"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
)

// Port payload keys
const (
	PortKey  = "port"
	PortsKey = "ports"
)

type portRequest struct {
	NetworkID           *string         `json:"network_id"`
	Name                *string         `json:"name"`
	MAC                 *string         `json:"mac_address"`
	AdminStateUp        *bool           `json:"admin_state_up"`
	DeviceID            *string         `json:"device_id"`
	DeviceOwner         *string         `json:"device_owner"`
	FixedIPs            json.RawMessage `json:"fixed_ips"`
	BindingHost         *string         `json:"binding:host_id"`
	PortSecurityEnabled *bool           `json:"port_security_enabled"`
	SecurityGroups      *[]string       `json:"security_groups"`

	fixedIPs *[]neutron.FixedIP
}

type fixedIPRequest struct {
	IPAddress *string `json:"ip_address"`
	SubnetID  *string `json:"subnet_id"`
}

var portOptional = []string{
	"name", "mac_address", "admin_state_up", "device_id", "device_owner",
	"fixed_ips", "binding:host_id", "port_security_enabled", "security_groups",
}

var (
	addPortKeys    = Keys{Mandatory: []string{"network_id"}, Optional: optional(portOptional, tenantKeys)}
	updatePortKeys = Keys{Optional: optional([]string{"network_id"}, portOptional)}
	fixedIPKeys    = Keys{Optional: []string{"ip_address", "subnet_id"}}
)

// FixedIPResponse is one element of a port's fixed_ips.
type FixedIPResponse struct {
	IPAddress string `json:"ip_address"`
	SubnetID  string `json:"subnet_id"`
}

// PortResponse is the REST form of a port.
type PortResponse struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	NetworkID           string            `json:"network_id"`
	TenantID            string            `json:"tenant_id"`
	ProjectID           string            `json:"project_id"`
	MAC                 string            `json:"mac_address"`
	AdminStateUp        bool              `json:"admin_state_up"`
	Status              string            `json:"status"`
	DeviceID            string            `json:"device_id"`
	DeviceOwner         string            `json:"device_owner"`
	FixedIPs            []FixedIPResponse `json:"fixed_ips"`
	PortSecurityEnabled bool              `json:"port_security_enabled"`
	SecurityGroups      []string          `json:"security_groups"`
	BindingHost         string            `json:"binding:host_id,omitempty"`
}

func validatePort(req *portRequest) error {
	if mac := lo.FromPtr(req.MAC); req.MAC != nil {
		if hw, err := net.ParseMAC(mac); err != nil || len(hw) != 6 {
			return errInvalidInput("mac_address", "'%s' is not a valid MAC address", mac)
		}
	}
	if isNull(req.FixedIPs) {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(req.FixedIPs, &elements); err != nil {
		return errInvalidInput("fixed_ips", "must be a list")
	}
	if len(elements) > 1 {
		return errInvalidInput("fixed_ips", "only one fixed IP per port is supported, got %d", len(elements))
	}
	fixed := make([]neutron.FixedIP, 0, len(elements))
	for _, raw := range elements {
		var elem fixedIPRequest
		if _, err := Decode(raw, "", fixedIPKeys, &elem); err != nil {
			return err
		}
		if ip := lo.FromPtr(elem.IPAddress); ip != "" && net.ParseIP(ip) == nil {
			return errInvalidInput("fixed_ips", "'%s' is not a valid IP address", ip)
		}
		fixed = append(fixed, neutron.FixedIP{IPAddress: lo.FromPtr(elem.IPAddress), SubnetID: lo.FromPtr(elem.SubnetID)})
	}
	req.fixedIPs = &fixed
	return nil
}

func portArgs(req *portRequest) neutron.PortArgs {
	return neutron.PortArgs{
		NetworkID:      lo.FromPtr(req.NetworkID),
		Name:           req.Name,
		MAC:            req.MAC,
		Enabled:        req.AdminStateUp,
		DeviceID:       req.DeviceID,
		DeviceOwner:    req.DeviceOwner,
		FixedIPs:       req.fixedIPs,
		BindingHost:    req.BindingHost,
		PortSecurity:   req.PortSecurityEnabled,
		SecurityGroups: req.SecurityGroups,
	}
}

// RenderPort builds the REST form of p.
func (m *Mapper) RenderPort(p *neutron.Port) interface{} {
	resp := &PortResponse{
		ID:                  p.ID(),
		Name:                p.LSP.ExternalIDs[neutron.PortNameKey],
		NetworkID:           p.NetworkID,
		TenantID:            m.tenantID,
		ProjectID:           m.tenantID,
		MAC:                 p.MAC(),
		AdminStateUp:        p.Enabled(),
		Status:              StatusActive,
		DeviceID:            p.LSP.ExternalIDs[neutron.PortDeviceIDKey],
		DeviceOwner:         p.LSP.ExternalIDs[neutron.PortDeviceOwnerKey],
		FixedIPs:            []FixedIPResponse{},
		PortSecurityEnabled: p.PortSecurityEnabled(),
		SecurityGroups:      lo.Ternary(p.SecurityGroups == nil, []string{}, p.SecurityGroups),
		BindingHost:         p.BindingHost(),
	}
	if !resp.AdminStateUp {
		resp.Status = StatusDown
	}
	if ip := p.IP(); ip != "" && p.Subnet != nil {
		resp.FixedIPs = append(resp.FixedIPs, FixedIPResponse{IPAddress: ip, SubnetID: p.Subnet.UUID})
	}
	return resp
}

// ListPorts serves GET ports.
func (m *Mapper) ListPorts(ctx context.Context) (interface{}, error) {
	ports, err := m.api.ListPorts(ctx)
	return List(PortsKey, ports, err, m.RenderPort)
}

// GetPort serves GET ports/{id}.
func (m *Mapper) GetPort(ctx context.Context, id string) (interface{}, error) {
	p, err := m.api.GetPort(ctx, id)
	return One(PortKey, p, err, m.RenderPort)
}

// AddPort serves POST ports.
func (m *Mapper) AddPort(ctx context.Context, body []byte) (interface{}, error) {
	return Run(Operation[portRequest, *neutron.Port]{
		Key:  PortKey,
		Keys: addPortKeys,
		Validate: func(req *portRequest, _ Fields) error {
			return validatePort(req)
		},
		Call: func(req *portRequest, _ Fields) (*neutron.Port, error) {
			return m.api.AddPort(ctx, portArgs(req))
		},
		Render: m.RenderPort,
	}, body)
}

// UpdatePort serves PUT ports/{id}.
func (m *Mapper) UpdatePort(ctx context.Context, id string, body []byte) (interface{}, error) {
	return Run(Operation[portRequest, *neutron.Port]{
		Key:  PortKey,
		Keys: updatePortKeys,
		Validate: func(req *portRequest, _ Fields) error {
			return validatePort(req)
		},
		Call: func(req *portRequest, _ Fields) (*neutron.Port, error) {
			return m.api.UpdatePort(ctx, id, portArgs(req))
		},
		Render: m.RenderPort,
	}, body)
}

// DeletePort serves DELETE ports/{id}.
func (m *Mapper) DeletePort(ctx context.Context, id string) error {
	return m.api.DeletePort(ctx, id)
}
