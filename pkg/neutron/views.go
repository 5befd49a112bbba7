package neutron

import (
	"net"
	"strconv"
	"strings"

	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// ID returns the network id.
func (n *Network) ID() string { return n.LS.UUID }

// Name returns the user visible name of the network.
func (n *Network) Name() string {
	if name, ok := n.LS.ExternalIDs[NetworkNameKey]; ok {
		return name
	}
	return n.LS.Name
}

// MTU returns the MTU of the network, or nil when none was set.
func (n *Network) MTU() *int {
	mtu, err := strconv.Atoi(n.LS.ExternalIDs[NetworkMTUKey])
	if err != nil {
		return nil
	}
	return &mtu
}

// PortSecurityEnabled returns the port security default of the network.
func (n *Network) PortSecurityEnabled() bool {
	enabled, _ := strconv.ParseBool(n.LS.ExternalIDs[NetworkPortSecurityKey])
	return enabled
}

// ProviderNetwork returns the physical network, type and VLAN of the
// network's uplink.
func (n *Network) ProviderNetwork() (physicalNetwork, networkType string, vlan *int) {
	return ProviderNetwork(n.Localnet)
}

// ID returns the port id.
func (p *Port) ID() string { return p.LSP.UUID }

// MAC returns the MAC address of the port. Router ports carry it on their
// Logical_Router_Port.
func (p *Port) MAC() string {
	if mac, _ := portAddress(p.LSP); mac != "" {
		return mac
	}
	if p.RouterPort != nil {
		return p.RouterPort.MAC
	}
	return ""
}

// IP returns the static, dynamically assigned or router IP of the port.
func (p *Port) IP() string {
	if ip := portIP(p.LSP); ip != "" {
		return ip
	}
	if p.RouterPort != nil && len(p.RouterPort.Networks) > 0 {
		if ip, _, err := net.ParseCIDR(p.RouterPort.Networks[0]); err == nil {
			return ip.String()
		}
	}
	return ""
}

// Enabled reports the admin state of the port.
func (p *Port) Enabled() bool {
	return p.LSP.Enabled == nil || *p.LSP.Enabled
}

// PortSecurityEnabled reports whether the port filters its traffic.
func (p *Port) PortSecurityEnabled() bool {
	return len(p.LSP.PortSecurity) > 0
}

// BindingHost returns the chassis the port is requested on.
func (p *Port) BindingHost() string {
	return p.LSP.Options[ovndb.OptionRequestedChassis]
}

// ID returns the subnet id.
func (s *Subnet) ID() string { return s.DHCP.UUID }

// NetworkID returns the network the subnet belongs to.
func (s *Subnet) NetworkID() string { return s.DHCP.ExternalIDs[SubnetNetworkIDKey] }

// Gateway returns the gateway IP, or "".
func (s *Subnet) Gateway() string { return subnetGateway(s.DHCP) }

// IPVersion returns 4 or 6.
func (s *Subnet) IPVersion() int {
	if subnetIsIPv6(s.DHCP) {
		return 6
	}
	return 4
}

// IPv6AddressMode returns the stored address mode of an IPv6 subnet.
func (s *Subnet) IPv6AddressMode() string {
	return s.DHCP.ExternalIDs[SubnetIPv6AddressModeKey]
}

// DNSNameservers returns the DNS servers handed out by the subnet.
func (s *Subnet) DNSNameservers() []string {
	return strings.Fields(strings.Trim(s.DHCP.Options[ovndb.DHCPDNSServer], "{}"))
}

// ID returns the router id.
func (r *Router) ID() string { return r.LR.UUID }

// Enabled reports the admin state of the router.
func (r *Router) Enabled() bool {
	return r.LR.Enabled == nil || *r.LR.Enabled
}

// UserRoutes returns the static routes that were requested by users. The
// default route of an external gateway is not one of them.
func (r *Router) UserRoutes() []Route {
	var out []Route
	for _, route := range r.Routes {
		if r.Gateway != nil && IsDefaultRoute(route.IPPrefix) {
			continue
		}
		out = append(out, Route{Destination: route.IPPrefix, Nexthop: route.Nexthop})
	}
	return out
}
