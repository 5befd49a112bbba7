package neutron

import (
	"fmt"
	"net"
	"strings"

	"github.com/samber/lo"
	utilnet "k8s.io/utils/net"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// Default route prefixes
const (
	DefaultRouteIPv4 = "0.0.0.0/0"
	DefaultRouteIPv6 = "::/0"
)

// IsDefaultRoute reports whether prefix is an IPv4 or IPv6 default route.
func IsDefaultRoute(prefix string) bool {
	return prefix == DefaultRouteIPv4 || prefix == DefaultRouteIPv6
}

func defaultRouteFor(ip string) string {
	if utilnet.IsIPv6String(ip) {
		return DefaultRouteIPv6
	}
	return DefaultRouteIPv4
}

// portAddress returns the MAC and the literal IPs of a port's addresses
// column. Dynamic and router tokens yield no IP.
func portAddress(lsp *ovndb.LogicalSwitchPort) (mac string, ips []string) {
	for _, entry := range lsp.Addresses {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case ovndb.AddressRouter, ovndb.AddressUnknown, ovndb.AddressDynamic:
			continue
		}
		if mac == "" {
			mac = fields[0]
		}
		for _, f := range fields[1:] {
			if f != ovndb.AddressDynamic {
				ips = append(ips, f)
			}
		}
	}
	return mac, ips
}

// dynamicIP returns the IP OVN assigned to a "dynamic" port.
func dynamicIP(lsp *ovndb.LogicalSwitchPort) string {
	if lsp.DynamicAddresses == nil {
		return ""
	}
	fields := strings.Fields(*lsp.DynamicAddresses)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func isDynamic(lsp *ovndb.LogicalSwitchPort) bool {
	for _, entry := range lsp.Addresses {
		fields := strings.Fields(entry)
		if len(fields) == 2 && fields[1] == ovndb.AddressDynamic {
			return true
		}
	}
	return false
}

// portIP returns the static IP of a port, or its dynamically assigned one.
func portIP(lsp *ovndb.LogicalSwitchPort) string {
	if _, ips := portAddress(lsp); len(ips) > 0 {
		return ips[0]
	}
	return dynamicIP(lsp)
}

func isRouterPort(lsp *ovndb.LogicalSwitchPort) bool {
	return lsp.Type == ovndb.PortTypeRouter
}

func isLocalnetPort(lsp *ovndb.LogicalSwitchPort) bool {
	return lsp.Type == ovndb.PortTypeLocalnet
}

// isOVirtPort reports whether the port was created through the API.
func isOVirtPort(lsp *ovndb.LogicalSwitchPort) bool {
	_, ok := lsp.ExternalIDs[PortNameKey]
	return ok
}

func sameIP(a, b string) bool {
	ipA, ipB := net.ParseIP(a), net.ParseIP(b)
	return ipA != nil && ipB != nil && ipA.Equal(ipB)
}

// subnetCIDR parses the cidr of a subnet.
func subnetCIDR(dhcp *ovndb.DHCPOptions) (*net.IPNet, error) {
	_, cidr, err := net.ParseCIDR(dhcp.Cidr)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "Subnet %s has an invalid cidr %q", dhcp.UUID, dhcp.Cidr)
	}
	return cidr, nil
}

// subnetGateway returns the gateway IP of a subnet, or "".
func subnetGateway(dhcp *ovndb.DHCPOptions) string {
	if gw := dhcp.ExternalIDs[SubnetIPv6GatewayKey]; gw != "" {
		return gw
	}
	return dhcp.Options[ovndb.DHCPRouter]
}

func subnetIsIPv6(dhcp *ovndb.DHCPOptions) bool {
	if v := dhcp.ExternalIDs[SubnetIPVersionKey]; v != "" {
		return v == "6"
	}
	return utilnet.IsIPv6CIDRString(dhcp.Cidr)
}

func subnetIsStateless(dhcp *ovndb.DHCPOptions) bool {
	return dhcp.Options[ovndb.DHCPv6Stateless] == "true"
}

// ipWithMask joins ip with the prefix length of a subnet, e.g. "10.0.0.1/24".
func ipWithMask(ip string, dhcp *ovndb.DHCPOptions) (string, error) {
	cidr, err := subnetCIDR(dhcp)
	if err != nil {
		return "", err
	}
	ones, _ := cidr.Mask.Size()
	return fmt.Sprintf("%s/%d", ip, ones), nil
}

// ipAvailableInNetwork fails when ip is used by a port of ls other than
// skipPort, or is listed in the switch's exclude_ips.
func ipAvailableInNetwork(ls *ovndb.LogicalSwitch, ports []*ovndb.LogicalSwitchPort, ip, skipPort string) error {
	excluded, ok := ovndb.ExcludeIPs(ls)
	if !ok {
		return apierr.NotImplementedf("IP ranges in exclude_ips of network %s are not supported", ls.UUID)
	}
	for _, ex := range excluded {
		if sameIP(ex, ip) {
			return apierr.Conflictf("IP address %s is reserved in network %s", ip, ls.UUID)
		}
	}
	for _, lsp := range ports {
		if lsp.UUID == skipPort {
			continue
		}
		if sameIP(portIP(lsp), ip) {
			return apierr.Conflictf("IP address %s is already in use in network %s", ip, ls.UUID)
		}
	}
	return nil
}

// ipInSubnet fails when ip is not an address of the subnet.
func ipInSubnet(ip string, dhcp *ovndb.DHCPOptions) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return apierr.BadRequestf("Invalid IP address %s", ip)
	}
	cidr, err := subnetCIDR(dhcp)
	if err != nil {
		return err
	}
	if !cidr.Contains(parsed) {
		return apierr.BadRequestf("IP address %s does not belong to subnet %s (%s)", ip, dhcp.UUID, dhcp.Cidr)
	}
	return nil
}

// fixedIPMatchesPortSubnet rejects a fixed IP that does not belong to the
// subnet of the port's network.
func fixedIPMatchesPortSubnet(fixed FixedIP, dhcp *ovndb.DHCPOptions, networkID string) error {
	if dhcp == nil {
		if fixed.IPAddress != "" || fixed.SubnetID != "" {
			return apierr.BadRequestf("Network %s has no subnet, fixed_ips can not be set", networkID)
		}
		return nil
	}
	if fixed.SubnetID != "" && fixed.SubnetID != dhcp.UUID {
		return apierr.BadRequestf("Subnet %s does not belong to network %s", fixed.SubnetID, networkID)
	}
	if fixed.IPAddress != "" {
		return ipInSubnet(fixed.IPAddress, dhcp)
	}
	return nil
}

// fixedIPsRequireStatefulDHCP rejects static IPs on a stateless IPv6 subnet.
func fixedIPsRequireStatefulDHCP(dhcp *ovndb.DHCPOptions, fixed FixedIP) error {
	if dhcp != nil && subnetIsStateless(dhcp) && fixed.IPAddress != "" {
		return apierr.BadRequestf("Unable to set a fixed IP on subnet %s: static addresses require dhcpv6_stateful", dhcp.UUID)
	}
	return nil
}

// validateRoutingSubnet checks a subnet passed to add_router_interface or
// used as an external gateway.
func validateRoutingSubnet(dhcp *ovndb.DHCPOptions, networkID, routerID string, requireGateway bool) error {
	owner := dhcp.ExternalIDs[SubnetNetworkIDKey]
	if owner == "" {
		return apierr.BadRequestf("Subnet %s does not belong to any network", dhcp.UUID)
	}
	if networkID != "" && owner != networkID {
		return apierr.BadRequestf("Subnet %s does not belong to network %s", dhcp.UUID, networkID)
	}
	if router := dhcp.ExternalIDs[SubnetGatewayRouterKey]; router != "" && routerID != "" {
		if router == routerID {
			return apierr.BadRequestf("Subnet %s is already connected to router %s", dhcp.UUID, routerID)
		}
		return apierr.Conflictf("Subnet %s is already connected to router %s", dhcp.UUID, router)
	}
	if requireGateway && subnetGateway(dhcp) == "" {
		return apierr.BadRequestf("Subnet %s has no gateway set", dhcp.UUID)
	}
	return nil
}

// noDefaultGatewayInRoutes rejects default routes next to an external
// gateway.
func noDefaultGatewayInRoutes(hasGateway bool, routes []Route) error {
	if !hasGateway {
		return nil
	}
	for _, r := range routes {
		if IsDefaultRoute(r.Destination) {
			return apierr.BadRequestf("A default static route %s can not be set on a router with an external gateway", r.Destination)
		}
	}
	return nil
}

func routerHasNoPorts(lr *ovndb.LogicalRouter, ignore ...string) error {
	for _, p := range lr.Ports {
		if !lo.Contains(ignore, p) {
			return apierr.Conflictf("Router %s still has ports", lr.UUID)
		}
	}
	return nil
}

func networkHasNoPorts(ls *ovndb.LogicalSwitch, ports []*ovndb.LogicalSwitchPort) error {
	for _, lsp := range ports {
		if !isLocalnetPort(lsp) {
			return apierr.Conflictf("Unable to delete network %s. Ports exist for the network", ls.UUID)
		}
	}
	return nil
}

// subnetNotConnectedToRouter rejects a second interface of a router on the
// same subnet.
func subnetNotConnectedToRouter(routerID string, lrps []*ovndb.LogicalRouterPort, dhcp *ovndb.DHCPOptions) error {
	cidr, err := subnetCIDR(dhcp)
	if err != nil {
		return err
	}
	for _, lrp := range lrps {
		for _, network := range lrp.Networks {
			ip, _, err := net.ParseCIDR(network)
			if err == nil && cidr.Contains(ip) {
				return apierr.BadRequestf("Router %s already has a port on subnet %s", routerID, dhcp.UUID)
			}
		}
	}
	return nil
}

func portIsNotConnectedToRouter(lsp *ovndb.LogicalSwitchPort) error {
	if isRouterPort(lsp) {
		return apierr.Conflictf("Port %s is already connected to a router", lsp.UUID)
	}
	return nil
}

func portIsConnectedToRouter(lsp *ovndb.LogicalSwitchPort, lr *ovndb.LogicalRouter, lrp *ovndb.LogicalRouterPort) error {
	if !isRouterPort(lsp) || lrp == nil || !lo.Contains(lr.Ports, lrp.UUID) {
		return apierr.Conflictf("Port %s is not connected to router %s", lsp.UUID, lr.UUID)
	}
	return nil
}

func portIsNotRouterOwned(lsp *ovndb.LogicalSwitchPort) error {
	owner := lsp.ExternalIDs[PortDeviceOwnerKey]
	if owner == DeviceOwnerRouterInterface || owner == DeviceOwnerRouterGateway {
		return apierr.Conflictf("Port %s cannot be deleted directly via the port API: has device owner %s", lsp.UUID, owner)
	}
	return nil
}
