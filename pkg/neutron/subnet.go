package neutron

import (
	"context"
	"net"
	"strconv"

	"github.com/samber/lo"
	utilnet "k8s.io/utils/net"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// ListSubnets returns every DHCP_Options row that belongs to a network.
func (a *NeutronAPI) ListSubnets(ctx context.Context) ([]*Subnet, error) {
	rows, err := a.ops.ListDHCPOptions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Subnet
	for _, dhcp := range rows {
		if _, ok := dhcp.ExternalIDs[SubnetNetworkIDKey]; ok {
			out = append(out, &Subnet{DHCP: dhcp})
		}
	}
	return out, nil
}

// GetSubnet returns one subnet.
func (a *NeutronAPI) GetSubnet(ctx context.Context, id string) (*Subnet, error) {
	dhcp, err := a.subnet(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Subnet{DHCP: dhcp}, nil
}

func (a *NeutronAPI) subnet(ctx context.Context, id string) (*ovndb.DHCPOptions, error) {
	dhcp, err := a.ops.GetDHCPOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := dhcp.ExternalIDs[SubnetNetworkIDKey]; !ok {
		return nil, apierr.NotFound("Subnet %s does not exist", id)
	}
	return dhcp, nil
}

// AddSubnet creates the single subnet of a network and links the network's
// ports to it.
func (a *NeutronAPI) AddSubnet(ctx context.Context, args SubnetArgs) (*Subnet, error) {
	ls, err := a.ops.GetLogicalSwitch(ctx, args.NetworkID)
	if err != nil {
		return nil, err
	}
	existing, err := a.subnetOfNetwork(ctx, args.NetworkID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.BadRequestf("Unable to create more than one subnet for network %s", args.NetworkID)
	}

	_, cidr, err := net.ParseCIDR(args.CIDR)
	if err != nil {
		return nil, apierr.BadRequestf("Invalid cidr %s", args.CIDR)
	}
	isV6 := utilnet.IsIPv6CIDR(cidr)
	if (args.IPVersion == 6) != isV6 {
		return nil, apierr.BadRequestf("The provided ip_version [%d] does not match the cidr %s", args.IPVersion, args.CIDR)
	}

	mode := ""
	if isV6 {
		mode = config.NormalizeIPv6AddressMode(lo.FromPtr(args.IPv6AddressMode))
		if args.IPv6AddressMode == nil {
			mode = config.NormalizeIPv6AddressMode(a.cfg.DHCP.DefaultIPv6AddressMode)
		}
		if mode == "" {
			return nil, apierr.BadRequestf("Invalid ipv6_address_mode %s", lo.FromPtr(args.IPv6AddressMode))
		}
		if ones, _ := cidr.Mask.Size(); mode == config.IPv6ModeStateless && ones != 64 {
			return nil, apierr.BadRequestf("The prefix length of a %s subnet must be 64, got %d", mode, ones)
		}
	}

	gateway := lo.FromPtr(args.GatewayIP)
	if gateway != "" {
		gw := net.ParseIP(gateway)
		if gw == nil || utilnet.IsIPv6(gw) != isV6 || !cidr.Contains(gw) {
			return nil, apierr.BadRequestf("Gateway IP %s does not belong to subnet cidr %s", gateway, cidr)
		}
	}

	options, err := a.subnetOptions(ls, cidr, mode, gateway, lo.FromPtr(args.DNSNameservers))
	if err != nil {
		return nil, err
	}
	dhcp := &ovndb.DHCPOptions{
		UUID:    ovndb.BuildNamedUUID(),
		Cidr:    cidr.String(),
		Options: options,
		ExternalIDs: map[string]string{
			SubnetNameKey:      lo.FromPtr(args.Name),
			SubnetNetworkIDKey: args.NetworkID,
			SubnetIPVersionKey: strconv.Itoa(args.IPVersion),
		},
	}
	prefixKey, prefix := ovndb.LSOtherConfigSubnet, cidr.String()
	if isV6 {
		dhcp.ExternalIDs[SubnetIPv6AddressModeKey] = mode
		if gateway != "" {
			dhcp.ExternalIDs[SubnetIPv6GatewayKey] = gateway
		}
		prefixKey, prefix = ovndb.LSOtherConfigIPv6Prefix, cidr.IP.String()
	}

	ports, err := a.ops.PortsOfSwitch(ctx, ls)
	if err != nil {
		return nil, err
	}
	t := a.ops.Txn().AddDHCPOptions(dhcp)
	t.SetMapKeys(ls, &ls.OtherConfig, map[string]string{prefixKey: prefix})
	reapplyAddresses(t, ports, dhcp.UUID, isV6)

	res, err := a.commit(ctx, "add_subnet", t)
	if err != nil {
		return nil, err
	}
	return a.GetSubnet(ctx, res.UUID(dhcp.UUID))
}

// subnetOptions builds the DHCP options of a new subnet.
func (a *NeutronAPI) subnetOptions(ls *ovndb.LogicalSwitch, cidr *net.IPNet, mode, gateway string, dns []string) (map[string]string, error) {
	opts := map[string]string{}
	if len(dns) > 0 {
		opts[ovndb.DHCPDNSServer] = dns[0]
	}
	if utilnet.IsIPv6CIDR(cidr) {
		opts[ovndb.DHCPServerID] = a.cfg.DHCP.ServerMAC
		if mode == config.IPv6ModeStateless {
			opts[ovndb.DHCPv6Stateless] = "true"
		}
		return opts, nil
	}

	serverID, err := utilnet.GetIndexedIP(cidr, 1)
	if err != nil {
		return nil, apierr.BadRequestf("Subnet %s has no usable address: %v", cidr, err)
	}
	opts[ovndb.DHCPServerID] = serverID.String()
	opts[ovndb.DHCPServerMAC] = a.cfg.DHCP.ServerMAC
	opts[ovndb.DHCPLeaseTime] = strconv.Itoa(a.cfg.DHCP.LeaseTime)
	if gateway != "" {
		opts[ovndb.DHCPRouter] = gateway
	}
	if a.cfg.DHCP.EnableMTU {
		mtu := ls.ExternalIDs[NetworkMTUKey]
		if mtu == "" {
			mtu = strconv.Itoa(a.cfg.DHCP.MTU)
		}
		opts[ovndb.DHCPMTU] = mtu
	}
	return opts, nil
}

// reapplyAddresses queues the address update of every VM port of a switch
// after its subnet was added (dhcpRef set) or removed (dhcpRef empty).
// Ports without a static IP switch between "MAC" and "MAC dynamic".
func reapplyAddresses(t *ovndb.Txn, ports []*ovndb.LogicalSwitchPort, dhcpRef string, isV6 bool) {
	for _, lsp := range ports {
		if lsp.Type != ovndb.PortTypeNormal {
			continue
		}
		mac, ips := portAddress(lsp)
		if mac == "" {
			continue
		}
		lsp.Dhcpv4Options, lsp.Dhcpv6Options = nil, nil
		switch {
		case dhcpRef == "":
			lsp.Addresses = []string{mac}
			ips = nil
		case len(ips) == 0:
			lsp.Addresses = []string{mac + " " + ovndb.AddressDynamic}
		}
		if dhcpRef != "" {
			ref := dhcpRef
			if isV6 {
				lsp.Dhcpv6Options = &ref
			} else {
				lsp.Dhcpv4Options = &ref
			}
		}
		if len(lsp.PortSecurity) > 0 {
			lsp.PortSecurity = portSecurityFor(mac, ips)
		}
		t.Update(lsp, &lsp.Addresses, &lsp.Dhcpv4Options, &lsp.Dhcpv6Options, &lsp.PortSecurity)
	}
}

// UpdateSubnet patches name, gateway and DNS server of a subnet.
func (a *NeutronAPI) UpdateSubnet(ctx context.Context, id string, args SubnetArgs) (*Subnet, error) {
	dhcp, err := a.subnet(ctx, id)
	if err != nil {
		return nil, err
	}
	if args.CIDR != "" && args.CIDR != dhcp.Cidr {
		return nil, apierr.BadRequestf("The cidr of subnet %s can not be updated", id)
	}
	if args.NetworkID != "" && args.NetworkID != dhcp.ExternalIDs[SubnetNetworkIDKey] {
		return nil, apierr.BadRequestf("The network of subnet %s can not be updated", id)
	}

	ls, err := a.ops.GetLogicalSwitch(ctx, dhcp.ExternalIDs[SubnetNetworkIDKey])
	if err != nil {
		return nil, err
	}
	_, cidr, err := net.ParseCIDR(dhcp.Cidr)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "Subnet %s has an invalid cidr %s", id, dhcp.Cidr)
	}

	isV6 := subnetIsIPv6(dhcp)
	gateway := dhcp.Options[ovndb.DHCPRouter]
	var dns []string
	if server := dhcp.Options[ovndb.DHCPDNSServer]; server != "" {
		dns = []string{server}
	}
	ext := map[string]string{}
	if args.Name != nil {
		ext[SubnetNameKey] = *args.Name
	}
	if args.GatewayIP != nil {
		gw := *args.GatewayIP
		if router := dhcp.ExternalIDs[SubnetGatewayRouterKey]; router != "" && !sameIP(gw, subnetGateway(dhcp)) {
			return nil, apierr.Conflictf("Unable to change the gateway of subnet %s, it is connected to router %s", id, router)
		}
		if gw != "" {
			if err := ipInSubnet(gw, dhcp); err != nil {
				return nil, err
			}
		}
		if isV6 {
			ext[SubnetIPv6GatewayKey] = gw
		} else {
			gateway = gw
		}
	}
	if args.DNSNameservers != nil {
		dns = *args.DNSNameservers
	}

	// Options derived from the configuration are refreshed as well.
	opts, err := a.subnetOptions(ls, cidr, dhcp.ExternalIDs[SubnetIPv6AddressModeKey], gateway, dns)
	if err != nil {
		return nil, err
	}

	t := a.ops.Txn()
	if len(ext) > 0 {
		t.SetMapKeys(dhcp, &dhcp.ExternalIDs, ext)
	}
	t.SetDHCPOptionsOptions(dhcp, opts)
	if _, err := a.commit(ctx, "update_subnet", t); err != nil {
		return nil, err
	}
	return a.GetSubnet(ctx, id)
}

// DeleteSubnet deletes a subnet that is not a router gateway and unlinks
// the ports of its network.
func (a *NeutronAPI) DeleteSubnet(ctx context.Context, id string) error {
	dhcp, err := a.subnet(ctx, id)
	if err != nil {
		return err
	}
	if router := dhcp.ExternalIDs[SubnetGatewayRouterKey]; router != "" {
		return apierr.Conflictf("Unable to delete subnet %s because it is connected to router %s", id, router)
	}

	t := a.ops.Txn().RemoveDHCPOptions(id)
	ls, err := a.ops.GetLogicalSwitch(ctx, dhcp.ExternalIDs[SubnetNetworkIDKey])
	switch {
	case ovndb.IsNotFound(err):
	case err != nil:
		return err
	default:
		routers, err := a.routersWithGatewayOn(ctx, ls)
		if err != nil {
			return err
		}
		if len(routers) > 0 {
			return apierr.Conflictf("Unable to delete subnet %s because it is the external gateway subnet of router %s", id, routers[0].UUID)
		}
		ports, err := a.ops.PortsOfSwitch(ctx, ls)
		if err != nil {
			return err
		}
		t.RemoveMapKeys(ls, &ls.OtherConfig, ovndb.LSOtherConfigSubnet, ovndb.LSOtherConfigIPv6Prefix)
		reapplyAddresses(t, ports, "", false)
	}
	_, err = a.commit(ctx, "delete_subnet", t)
	return err
}
