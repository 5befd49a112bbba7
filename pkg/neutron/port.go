package neutron

import (
	"context"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// portAddresses builds the addresses column of a VM port.
func portAddresses(mac, ip string, dhcp *ovndb.DHCPOptions) []string {
	switch {
	case dhcp == nil:
		return []string{mac}
	case ip != "":
		return []string{mac + " " + ip}
	}
	return []string{mac + " " + ovndb.AddressDynamic}
}

// portSecurityFor builds the port_security column of a port with security
// enabled: its MAC and its static IPs.
func portSecurityFor(mac string, ips []string) []string {
	if len(ips) == 0 {
		return []string{mac}
	}
	return []string{mac + " " + strings.Join(ips, " ")}
}

// portIndex holds the rows the REST view of ports depends on.
type portIndex struct {
	networkOf map[string]string
	groupsOf  map[string][]string
	dhcp      map[string]*ovndb.DHCPOptions
	lrps      map[string]*ovndb.LogicalRouterPort
}

func (a *NeutronAPI) buildPortIndex(ctx context.Context) (*portIndex, error) {
	idx := &portIndex{
		networkOf: map[string]string{},
		groupsOf:  map[string][]string{},
	}
	switches, err := a.ops.ListLogicalSwitches(ctx)
	if err != nil {
		return nil, err
	}
	for _, ls := range switches {
		for _, p := range ls.Ports {
			idx.networkOf[p] = ls.UUID
		}
	}
	groups, err := a.ops.ListPortGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, pg := range groups {
		if !isSecurityGroup(pg) {
			continue
		}
		for _, p := range pg.Ports {
			idx.groupsOf[p] = append(idx.groupsOf[p], pg.UUID)
		}
	}
	dhcps, err := a.ops.ListDHCPOptions(ctx)
	if err != nil {
		return nil, err
	}
	idx.dhcp = lo.KeyBy(dhcps, func(d *ovndb.DHCPOptions) string { return d.UUID })
	lrps, err := a.ops.ListLogicalRouterPorts(ctx)
	if err != nil {
		return nil, err
	}
	idx.lrps = lo.KeyBy(lrps, func(p *ovndb.LogicalRouterPort) string { return p.Name })
	return idx, nil
}

func (idx *portIndex) view(lsp *ovndb.LogicalSwitchPort) *Port {
	p := &Port{
		LSP:            lsp,
		NetworkID:      idx.networkOf[lsp.UUID],
		SecurityGroups: idx.groupsOf[lsp.UUID],
		RouterPort:     idx.lrps[ovndb.LRPName(lsp.UUID)],
	}
	for _, ref := range []*string{lsp.Dhcpv4Options, lsp.Dhcpv6Options} {
		if ref != nil {
			if dhcp, ok := idx.dhcp[*ref]; ok {
				p.Subnet = dhcp
			}
		}
	}
	return p
}

// ListPorts returns the ports created through the API. Ports without a
// NIC name, such as localnet uplinks, are not listed.
func (a *NeutronAPI) ListPorts(ctx context.Context) ([]*Port, error) {
	lsps, err := a.ops.ListLogicalSwitchPorts(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := a.buildPortIndex(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Port
	for _, lsp := range lsps {
		if isOVirtPort(lsp) {
			out = append(out, a.routerPortView(idx, lsp))
		}
	}
	return out, nil
}

// routerPortView resolves the subnet of a router port, which has no DHCP
// link of its own, from its network.
func (a *NeutronAPI) routerPortView(idx *portIndex, lsp *ovndb.LogicalSwitchPort) *Port {
	p := idx.view(lsp)
	if p.Subnet == nil && isRouterPort(lsp) {
		for _, dhcp := range idx.dhcp {
			if dhcp.ExternalIDs[SubnetNetworkIDKey] == p.NetworkID {
				p.Subnet = dhcp
				break
			}
		}
	}
	return p
}

// GetPort returns one port created through the API.
func (a *NeutronAPI) GetPort(ctx context.Context, id string) (*Port, error) {
	lsp, err := a.ops.GetLogicalSwitchPort(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isOVirtPort(lsp) {
		return nil, apierr.NotFound("Port %s does not exist", id)
	}
	idx, err := a.buildPortIndex(ctx)
	if err != nil {
		return nil, err
	}
	return a.routerPortView(idx, lsp), nil
}

// portSecurityDefault returns the port security of a new port on ls.
func (a *NeutronAPI) portSecurityDefault(ls *ovndb.LogicalSwitch) bool {
	if v, ok := ls.ExternalIDs[NetworkPortSecurityKey]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return a.cfg.Network.PortSecurityEnabledDefault
}

func firstFixedIP(fixed *[]FixedIP) FixedIP {
	if fixed == nil || len(*fixed) == 0 {
		return FixedIP{}
	}
	return (*fixed)[0]
}

// validateFixedIP checks a requested fixed IP against the network's subnet
// and the IPs already in use.
func validateFixedIP(fixed FixedIP, ls *ovndb.LogicalSwitch, ports []*ovndb.LogicalSwitchPort, dhcp *ovndb.DHCPOptions, portID string) error {
	if err := fixedIPMatchesPortSubnet(fixed, dhcp, ls.UUID); err != nil {
		return err
	}
	if err := fixedIPsRequireStatefulDHCP(dhcp, fixed); err != nil {
		return err
	}
	if fixed.IPAddress != "" {
		return ipAvailableInNetwork(ls, ports, fixed.IPAddress, portID)
	}
	return nil
}

// AddPort creates a Logical_Switch_Port named after its own UUID.
func (a *NeutronAPI) AddPort(ctx context.Context, args PortArgs) (*Port, error) {
	ls, err := a.ops.GetLogicalSwitch(ctx, args.NetworkID)
	if err != nil {
		return nil, err
	}
	ports, err := a.ops.PortsOfSwitch(ctx, ls)
	if err != nil {
		return nil, err
	}
	dhcp, err := a.subnetOfNetwork(ctx, ls.UUID)
	if err != nil {
		return nil, err
	}
	fixed := firstFixedIP(args.FixedIPs)
	if err := validateFixedIP(fixed, ls, ports, dhcp, ""); err != nil {
		return nil, err
	}

	mac := strings.ToLower(lo.FromPtr(args.MAC))
	if mac == "" {
		if mac, err = a.generateMAC(ctx); err != nil {
			return nil, err
		}
	}

	portSecurity := a.portSecurityDefault(ls)
	if args.PortSecurity != nil {
		portSecurity = *args.PortSecurity
	}
	groups, err := a.portGroupsFor(ctx, portSecurity, args.SecurityGroups)
	if err != nil {
		return nil, err
	}

	lsp := &ovndb.LogicalSwitchPort{
		UUID:      ovndb.BuildNamedUUID(),
		Name:      placeholderName(""),
		Addresses: portAddresses(mac, fixed.IPAddress, dhcp),
		Options:   map[string]string{},
		ExternalIDs: map[string]string{
			PortNameKey:        lo.FromPtr(args.Name),
			PortDeviceIDKey:    lo.FromPtr(args.DeviceID),
			PortDeviceOwnerKey: lo.FromPtr(args.DeviceOwner),
		},
		Enabled: boolPtr(args.Enabled == nil || *args.Enabled),
	}
	if portSecurity {
		lsp.PortSecurity = portSecurityFor(mac, lo.Compact([]string{fixed.IPAddress}))
	}
	if dhcp != nil {
		ref := dhcp.UUID
		if subnetIsIPv6(dhcp) {
			lsp.Dhcpv6Options = &ref
		} else {
			lsp.Dhcpv4Options = &ref
		}
	}
	if host := lo.FromPtr(args.BindingHost); host != "" && a.cfg.Provider.OVSVersion29 {
		lsp.Options[ovndb.OptionRequestedChassis] = host
	}

	t := a.ops.Txn().AddLogicalSwitchPort(ls.UUID, lsp)
	for _, pg := range groups {
		t.AddPortsToPortGroup(pg, lsp.UUID)
	}
	res, err := a.commit(ctx, "add_port", t)
	if err != nil {
		return nil, err
	}
	id := res.UUID(lsp.UUID)
	if err := a.nameAfterUUID(ctx, ls.UUID, id); err != nil {
		return nil, err
	}
	return a.GetPort(ctx, id)
}

// nameAfterUUID sets the name column of a new switch port to its UUID. On
// failure the port is deleted again.
func (a *NeutronAPI) nameAfterUUID(ctx context.Context, lsUUID, lspUUID string, extra ...func(*ovndb.Txn)) error {
	lsp := &ovndb.LogicalSwitchPort{UUID: lspUUID, Name: lspUUID}
	t := a.ops.Txn().Update(lsp, &lsp.Name)
	for _, f := range extra {
		f(t)
	}
	if _, err := a.commit(ctx, "name_port", t); err != nil {
		a.rollbackPort(ctx, lsUUID, lspUUID)
		return err
	}
	return nil
}

func (a *NeutronAPI) rollbackPort(ctx context.Context, lsUUID, lspUUID string) {
	log := logging.LoggerForOVN(ctx, "rollback_port").WithValues("port", lspUUID)
	if _, err := a.ops.Txn().RemoveLogicalSwitchPort(lsUUID, lspUUID).Commit(ctx); err != nil {
		log.Error(err, "Failed to delete port after a failed rename")
		return
	}
	log.Info("Deleted port after a failed rename")
}

// UpdatePort patches a port. The network of a port can not change. Router
// ports carry their IP and MAC on the peer router port.
func (a *NeutronAPI) UpdatePort(ctx context.Context, id string, args PortArgs) (*Port, error) {
	lsp, err := a.ops.GetLogicalSwitchPort(ctx, id)
	if err != nil {
		return nil, err
	}
	ls, err := a.ops.LogicalSwitchForPort(ctx, id)
	if err != nil {
		return nil, err
	}
	if args.NetworkID != "" && args.NetworkID != ls.UUID {
		return nil, apierr.BadRequestf("Unable to move port %s from network %s to network %s", id, ls.UUID, args.NetworkID)
	}
	ports, err := a.ops.PortsOfSwitch(ctx, ls)
	if err != nil {
		return nil, err
	}
	dhcp, err := a.subnetOfNetwork(ctx, ls.UUID)
	if err != nil {
		return nil, err
	}

	t := a.ops.Txn()
	ext := map[string]string{}
	for key, v := range map[string]*string{
		PortNameKey:        args.Name,
		PortDeviceIDKey:    args.DeviceID,
		PortDeviceOwnerKey: args.DeviceOwner,
	} {
		if v != nil {
			ext[key] = *v
		}
	}
	if len(ext) > 0 {
		t.SetMapKeys(lsp, &lsp.ExternalIDs, ext)
	}
	if args.Enabled != nil {
		lsp.Enabled = boolPtr(*args.Enabled)
		t.Update(lsp, &lsp.Enabled)
	}
	if args.BindingHost != nil && a.cfg.Provider.OVSVersion29 {
		t.SetMapKeys(lsp, &lsp.Options, map[string]string{ovndb.OptionRequestedChassis: *args.BindingHost})
	}

	if isRouterPort(lsp) {
		if err := a.updateRouterPortAddress(ctx, t, lsp, ls, ports, dhcp, args); err != nil {
			return nil, err
		}
	} else if err := a.updatePortAddresses(ctx, t, lsp, ls, ports, dhcp, args); err != nil {
		return nil, err
	}

	if _, err := a.commit(ctx, "update_port", t); err != nil {
		return nil, err
	}
	return a.GetPort(ctx, id)
}

func (a *NeutronAPI) updatePortAddresses(ctx context.Context, t *ovndb.Txn, lsp *ovndb.LogicalSwitchPort, ls *ovndb.LogicalSwitch,
	ports []*ovndb.LogicalSwitchPort, dhcp *ovndb.DHCPOptions, args PortArgs) error {
	mac, ips := portAddress(lsp)
	ip := ""
	if len(ips) > 0 {
		ip = ips[0]
	}
	if args.MAC != nil {
		mac = strings.ToLower(*args.MAC)
	}
	if args.FixedIPs != nil {
		fixed := firstFixedIP(args.FixedIPs)
		if err := fixedIPMatchesPortSubnet(fixed, dhcp, ls.UUID); err != nil {
			return err
		}
		if err := fixedIPsRequireStatefulDHCP(dhcp, fixed); err != nil {
			return err
		}
		ip = fixed.IPAddress
	}
	if ip != "" {
		if err := ipAvailableInNetwork(ls, ports, ip, lsp.UUID); err != nil {
			return err
		}
	}

	portSecurity := len(lsp.PortSecurity) > 0
	if args.PortSecurity != nil {
		portSecurity = *args.PortSecurity
	}
	lsp.Addresses = portAddresses(mac, ip, dhcp)
	lsp.PortSecurity = []string{}
	if portSecurity {
		lsp.PortSecurity = portSecurityFor(mac, lo.Compact([]string{ip}))
	}
	t.Update(lsp, &lsp.Addresses, &lsp.PortSecurity)

	if args.PortSecurity == nil && args.SecurityGroups == nil {
		return nil
	}
	return a.updatePortGroups(ctx, t, lsp.UUID, portSecurity, args.SecurityGroups)
}

// updateRouterPortAddress moves a new fixed IP or MAC of a router port to
// its peer router port.
func (a *NeutronAPI) updateRouterPortAddress(ctx context.Context, t *ovndb.Txn, lsp *ovndb.LogicalSwitchPort, ls *ovndb.LogicalSwitch,
	ports []*ovndb.LogicalSwitchPort, dhcp *ovndb.DHCPOptions, args PortArgs) error {
	if args.FixedIPs == nil && args.MAC == nil {
		return nil
	}
	lrp, err := a.ops.GetLogicalRouterPortByName(ctx, ovndb.LRPName(lsp.UUID))
	if err != nil {
		return err
	}
	if args.MAC != nil {
		lrp.MAC = strings.ToLower(*args.MAC)
	}
	if fixed := firstFixedIP(args.FixedIPs); fixed.IPAddress != "" {
		if err := fixedIPMatchesPortSubnet(fixed, dhcp, ls.UUID); err != nil {
			return err
		}
		if err := ipAvailableInNetwork(ls, ports, fixed.IPAddress, lsp.UUID); err != nil {
			return err
		}
		network, err := ipWithMask(fixed.IPAddress, dhcp)
		if err != nil {
			return err
		}
		lrp.Networks = []string{network}
	}
	t.Update(lrp, &lrp.MAC, &lrp.Networks)
	return nil
}

// updatePortGroups reconciles the groups of a port with its port security
// and the requested security groups.
func (a *NeutronAPI) updatePortGroups(ctx context.Context, t *ovndb.Txn, lspUUID string, portSecurity bool, requested *[]string) error {
	current, err := a.ops.PortGroupsOfPort(ctx, lspUUID)
	if err != nil {
		return err
	}
	have := sets.New[string]()
	var currentSGs []string
	for _, pg := range current {
		have.Insert(pg.UUID)
		if isSecurityGroup(pg) {
			currentSGs = append(currentSGs, pg.UUID)
		}
	}
	if requested == nil && portSecurity {
		requested = &currentSGs
	}
	desired, err := a.portGroupsFor(ctx, portSecurity, requested)
	if err != nil {
		return err
	}
	want := sets.New(desired...)
	for _, pg := range sets.List(have.Difference(want)) {
		t.RemovePortsFromPortGroup(pg, lspUUID)
	}
	for _, pg := range sets.List(want.Difference(have)) {
		t.AddPortsToPortGroup(pg, lspUUID)
	}
	return nil
}

// portGroupsFor returns the Port_Groups a port belongs to: none without
// port security, otherwise the drop-all group plus the requested security
// groups, or the default group when none is requested.
func (a *NeutronAPI) portGroupsFor(ctx context.Context, portSecurity bool, requested *[]string) ([]string, error) {
	if !portSecurity {
		if requested != nil && len(*requested) > 0 {
			return nil, apierr.BadRequestf("Security groups can not be set on a port with port security disabled")
		}
		return nil, nil
	}
	dropAll, err := a.dropAllGroup(ctx)
	if err != nil {
		return nil, err
	}
	groups := []string{dropAll.UUID}
	if requested == nil || len(*requested) == 0 {
		def, err := a.defaultGroup(ctx)
		if err != nil {
			return nil, err
		}
		return append(groups, def.UUID), nil
	}
	for _, id := range lo.Uniq(*requested) {
		if _, err := a.securityGroup(ctx, id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, nil
}

// DeletePort deletes a port that is not a router attachment.
func (a *NeutronAPI) DeletePort(ctx context.Context, id string) error {
	lsp, err := a.ops.GetLogicalSwitchPort(ctx, id)
	if err != nil {
		return err
	}
	if err := portIsNotRouterOwned(lsp); err != nil {
		return err
	}
	if err := portIsNotConnectedToRouter(lsp); err != nil {
		return err
	}
	ls, err := a.ops.LogicalSwitchForPort(ctx, id)
	if err != nil {
		return err
	}
	_, err = a.commit(ctx, "delete_port", a.ops.Txn().RemoveLogicalSwitchPort(ls.UUID, id))
	return err
}
