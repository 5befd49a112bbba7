package mapper

import (
	"context"
	"net"
	"strings"

	"github.com/samber/lo"
	utilnet "k8s.io/utils/net"

	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
)

// Subnet payload keys
const (
	SubnetKey  = "subnet"
	SubnetsKey = "subnets"
)

type subnetRequest struct {
	Name            *string   `json:"name"`
	CIDR            *string   `json:"cidr"`
	NetworkID       *string   `json:"network_id"`
	IPVersion       *int      `json:"ip_version"`
	GatewayIP       *string   `json:"gateway_ip"`
	DNSNameservers  *[]string `json:"dns_nameservers"`
	IPv6AddressMode *string   `json:"ipv6_address_mode"`
	EnableDHCP      *bool     `json:"enable_dhcp"`
}

var (
	addSubnetKeys = Keys{
		Mandatory: []string{"cidr", "network_id", "ip_version"},
		Optional:  optional([]string{"name", "gateway_ip", "dns_nameservers", "ipv6_address_mode", "enable_dhcp"}, tenantKeys),
	}
	updateSubnetKeys = Keys{Optional: []string{"name", "gateway_ip", "dns_nameservers", "enable_dhcp"}}
)

// AllocationPool is a range of addresses handed out by a subnet.
type AllocationPool struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SubnetResponse is the REST form of a subnet.
type SubnetResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	NetworkID       string           `json:"network_id"`
	TenantID        string           `json:"tenant_id"`
	ProjectID       string           `json:"project_id"`
	CIDR            string           `json:"cidr"`
	IPVersion       int              `json:"ip_version"`
	GatewayIP       *string          `json:"gateway_ip"`
	DNSNameservers  []string         `json:"dns_nameservers"`
	EnableDHCP      bool             `json:"enable_dhcp"`
	IPv6AddressMode *string          `json:"ipv6_address_mode"`
	AllocationPools []AllocationPool `json:"allocation_pools"`
}

func validateSubnet(req *subnetRequest) error {
	if req.EnableDHCP != nil && !*req.EnableDHCP {
		return errInvalidInput("enable_dhcp", "subnets without DHCP are not supported")
	}
	if req.IPVersion != nil && *req.IPVersion != 4 && *req.IPVersion != 6 {
		return errInvalidInput("ip_version", "%d is not a valid IP version", *req.IPVersion)
	}
	if req.CIDR != nil {
		if _, _, err := net.ParseCIDR(*req.CIDR); err != nil {
			return errInvalidInput("cidr", "'%s' is not a valid CIDR", *req.CIDR)
		}
	}
	if gw := lo.FromPtr(req.GatewayIP); gw != "" && net.ParseIP(gw) == nil {
		return errInvalidInput("gateway_ip", "'%s' is not a valid IP address", gw)
	}
	for _, dns := range lo.FromPtr(req.DNSNameservers) {
		if net.ParseIP(dns) == nil {
			return errInvalidInput("dns_nameservers", "'%s' is not a valid IP address", dns)
		}
	}
	if mode := req.IPv6AddressMode; mode != nil && config.NormalizeIPv6AddressMode(*mode) == "" {
		return errInvalidInput("ipv6_address_mode", "'%s' is not supported, use dhcpv6-stateful or dhcpv6-stateless", *mode)
	}
	return nil
}

func subnetArgs(req *subnetRequest) neutron.SubnetArgs {
	return neutron.SubnetArgs{
		Name:            req.Name,
		CIDR:            lo.FromPtr(req.CIDR),
		NetworkID:       lo.FromPtr(req.NetworkID),
		IPVersion:       lo.FromPtr(req.IPVersion),
		GatewayIP:       req.GatewayIP,
		DNSNameservers:  req.DNSNameservers,
		IPv6AddressMode: req.IPv6AddressMode,
	}
}

// allocationPool returns the host range of cidr: the network address and,
// for IPv4, the broadcast address are excluded.
func allocationPool(cidr string) []AllocationPool {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return []AllocationPool{}
	}
	if v4 := ip.To4(); v4 != nil {
		ipNet.IP = ipNet.IP.To4()
	}
	last := make(net.IP, len(ipNet.IP))
	for i := range ipNet.IP {
		last[i] = ipNet.IP[i] | ^ipNet.Mask[i]
	}
	if !utilnet.IsIPv6CIDR(ipNet) {
		last = utilnet.AddIPOffset(utilnet.BigForIP(last), -1)
	}
	first := utilnet.AddIPOffset(utilnet.BigForIP(ipNet.IP), 1)
	return []AllocationPool{{Start: first.String(), End: last.String()}}
}

// RenderSubnet builds the REST form of s.
func (m *Mapper) RenderSubnet(s *neutron.Subnet) interface{} {
	resp := &SubnetResponse{
		ID:              s.ID(),
		Name:            s.DHCP.ExternalIDs[neutron.SubnetNameKey],
		NetworkID:       s.NetworkID(),
		TenantID:        m.tenantID,
		ProjectID:       m.tenantID,
		CIDR:            s.DHCP.Cidr,
		IPVersion:       s.IPVersion(),
		DNSNameservers:  lo.Ternary(len(s.DNSNameservers()) == 0, []string{}, s.DNSNameservers()),
		EnableDHCP:      true,
		AllocationPools: allocationPool(s.DHCP.Cidr),
	}
	if gw := s.Gateway(); gw != "" {
		resp.GatewayIP = &gw
	}
	if mode := s.IPv6AddressMode(); mode != "" {
		mode = strings.ReplaceAll(mode, "_", "-")
		resp.IPv6AddressMode = &mode
	}
	return resp
}

// ListSubnets serves GET subnets.
func (m *Mapper) ListSubnets(ctx context.Context) (interface{}, error) {
	subnets, err := m.api.ListSubnets(ctx)
	return List(SubnetsKey, subnets, err, m.RenderSubnet)
}

// GetSubnet serves GET subnets/{id}.
func (m *Mapper) GetSubnet(ctx context.Context, id string) (interface{}, error) {
	s, err := m.api.GetSubnet(ctx, id)
	return One(SubnetKey, s, err, m.RenderSubnet)
}

// AddSubnet serves POST subnets.
func (m *Mapper) AddSubnet(ctx context.Context, body []byte) (interface{}, error) {
	return Run(Operation[subnetRequest, *neutron.Subnet]{
		Key:  SubnetKey,
		Keys: addSubnetKeys,
		Validate: func(req *subnetRequest, _ Fields) error {
			return validateSubnet(req)
		},
		Call: func(req *subnetRequest, _ Fields) (*neutron.Subnet, error) {
			return m.api.AddSubnet(ctx, subnetArgs(req))
		},
		Render: m.RenderSubnet,
	}, body)
}

// UpdateSubnet serves PUT subnets/{id}. The cidr, network, IP version and
// address mode of a subnet are fixed at creation.
func (m *Mapper) UpdateSubnet(ctx context.Context, id string, body []byte) (interface{}, error) {
	return Run(Operation[subnetRequest, *neutron.Subnet]{
		Key:  SubnetKey,
		Keys: updateSubnetKeys,
		Validate: func(req *subnetRequest, _ Fields) error {
			return validateSubnet(req)
		},
		Call: func(req *subnetRequest, _ Fields) (*neutron.Subnet, error) {
			return m.api.UpdateSubnet(ctx, id, subnetArgs(req))
		},
		Render: m.RenderSubnet,
	}, body)
}

// DeleteSubnet serves DELETE subnets/{id}.
func (m *Mapper) DeleteSubnet(ctx context.Context, id string) error {
	return m.api.DeleteSubnet(ctx, id)
}
