package neutron

import (
	"context"
	"net"
	"strings"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// routerPortRequest describes the switch-side half of a router port pair.
type routerPortRequest struct {
	ls       *ovndb.LogicalSwitch
	routerID string
	mac      string
	network  string
	owner    string
}

// createRouterPort creates a router type switch port on req.ls and its
// peer Logical_Router_Port on req.routerID. The switch port is created
// first so that the router port can be named after its UUID. extra adds
// operations to the second transaction.
func (a *NeutronAPI) createRouterPort(ctx context.Context, req routerPortRequest, extra func(t *ovndb.Txn, lspUUID string)) (string, error) {
	lsp := &ovndb.LogicalSwitchPort{
		UUID:      ovndb.BuildNamedUUID(),
		Name:      placeholderName(""),
		Type:      ovndb.PortTypeRouter,
		Addresses: []string{ovndb.AddressRouter},
		Options:   map[string]string{},
		ExternalIDs: map[string]string{
			PortNameKey:        "",
			PortDeviceIDKey:    req.routerID,
			PortDeviceOwnerKey: req.owner,
		},
		Enabled: boolPtr(true),
	}
	res, err := a.commit(ctx, "add_router_port", a.ops.Txn().AddLogicalSwitchPort(req.ls.UUID, lsp))
	if err != nil {
		return "", err
	}
	id := res.UUID(lsp.UUID)

	err = a.nameAfterUUID(ctx, req.ls.UUID, id, func(t *ovndb.Txn) {
		peer := &ovndb.LogicalSwitchPort{UUID: id, Options: map[string]string{ovndb.OptionRouterPort: ovndb.LRPName(id)}}
		t.Update(peer, &peer.Options)
		t.AddLogicalRouterPort(req.routerID, &ovndb.LogicalRouterPort{
			UUID:     ovndb.BuildNamedUUID(),
			Name:     ovndb.LRPName(id),
			MAC:      req.mac,
			Networks: []string{req.network},
		})
		if extra != nil {
			extra(t, id)
		}
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// routerPorts returns the Logical_Router_Ports of lr.
func (a *NeutronAPI) routerPorts(ctx context.Context, lr *ovndb.LogicalRouter) ([]*ovndb.LogicalRouterPort, error) {
	out := make([]*ovndb.LogicalRouterPort, 0, len(lr.Ports))
	for _, id := range lr.Ports {
		lrp, err := a.ops.GetLogicalRouterPort(ctx, id)
		if err != nil {
			if ovndb.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, lrp)
	}
	return out, nil
}

// AddRouterInterface connects a router to a subnet, either through a new
// port holding the subnet's gateway IP or by converting an existing port.
func (a *NeutronAPI) AddRouterInterface(ctx context.Context, routerID string, args RouterInterfaceArgs) (*RouterInterface, error) {
	if (args.SubnetID == "") == (args.PortID == "") {
		return nil, apierr.BadRequestf("Exactly one of subnet_id and port_id must be specified")
	}
	lr, err := a.ops.GetLogicalRouter(ctx, routerID)
	if err != nil {
		return nil, err
	}
	lrps, err := a.routerPorts(ctx, lr)
	if err != nil {
		return nil, err
	}
	if args.PortID != "" {
		return a.addRouterInterfaceByPort(ctx, lr, lrps, args.PortID)
	}

	dhcp, err := a.subnet(ctx, args.SubnetID)
	if err != nil {
		return nil, err
	}
	if err := validateRoutingSubnet(dhcp, "", routerID, true); err != nil {
		return nil, err
	}
	if err := subnetNotConnectedToRouter(routerID, lrps, dhcp); err != nil {
		return nil, err
	}
	networkID := dhcp.ExternalIDs[SubnetNetworkIDKey]
	ls, err := a.ops.GetLogicalSwitch(ctx, networkID)
	if err != nil {
		return nil, err
	}
	network, err := ipWithMask(subnetGateway(dhcp), dhcp)
	if err != nil {
		return nil, err
	}
	mac, err := a.generateMAC(ctx)
	if err != nil {
		return nil, err
	}
	portID, err := a.createRouterPort(ctx, routerPortRequest{
		ls:       ls,
		routerID: routerID,
		mac:      mac,
		network:  network,
		owner:    DeviceOwnerRouterInterface,
	}, func(t *ovndb.Txn, _ string) {
		t.SetMapKeys(dhcp, &dhcp.ExternalIDs, map[string]string{SubnetGatewayRouterKey: routerID})
	})
	if err != nil {
		return nil, err
	}
	return &RouterInterface{RouterID: routerID, PortID: portID, SubnetID: dhcp.UUID, NetworkID: networkID}, nil
}

// addRouterInterfaceByPort turns a VM port into the switch side of a router
// port pair. The port keeps its MAC and IP.
func (a *NeutronAPI) addRouterInterfaceByPort(ctx context.Context, lr *ovndb.LogicalRouter, lrps []*ovndb.LogicalRouterPort, portID string) (*RouterInterface, error) {
	lsp, err := a.ops.GetLogicalSwitchPort(ctx, portID)
	if err != nil {
		return nil, err
	}
	if err := portIsNotConnectedToRouter(lsp); err != nil {
		return nil, err
	}
	ls, err := a.ops.LogicalSwitchForPort(ctx, portID)
	if err != nil {
		return nil, err
	}
	dhcp, err := a.subnetOfNetwork(ctx, ls.UUID)
	if err != nil {
		return nil, err
	}
	if dhcp == nil {
		return nil, apierr.BadRequestf("Port %s is on network %s which has no subnet", portID, ls.UUID)
	}
	ip := portIP(lsp)
	if ip == "" {
		return nil, apierr.BadRequestf("Port %s has no IP address assigned", portID)
	}
	if err := subnetNotConnectedToRouter(lr.UUID, lrps, dhcp); err != nil {
		return nil, err
	}
	network, err := ipWithMask(ip, dhcp)
	if err != nil {
		return nil, err
	}
	mac, _ := portAddress(lsp)
	groups, err := a.ops.PortGroupsOfPort(ctx, portID)
	if err != nil {
		return nil, err
	}

	t := a.ops.Txn()
	lsp.Type = ovndb.PortTypeRouter
	lsp.Addresses = []string{ovndb.AddressRouter}
	t.Update(lsp, &lsp.Type, &lsp.Addresses)
	t.SetMapKeys(lsp, &lsp.Options, map[string]string{ovndb.OptionRouterPort: ovndb.LRPName(portID)})
	t.SetMapKeys(lsp, &lsp.ExternalIDs, map[string]string{
		PortDeviceIDKey:    lr.UUID,
		PortDeviceOwnerKey: DeviceOwnerRouterInterface,
	})
	t.Clear(lsp, &lsp.PortSecurity)
	t.Clear(lsp, &lsp.Dhcpv4Options)
	t.Clear(lsp, &lsp.Dhcpv6Options)
	for _, pg := range groups {
		t.RemovePortsFromPortGroup(pg.UUID, portID)
	}
	t.AddLogicalRouterPort(lr.UUID, &ovndb.LogicalRouterPort{
		UUID:     ovndb.BuildNamedUUID(),
		Name:     ovndb.LRPName(portID),
		MAC:      mac,
		Networks: []string{network},
	})
	if sameIP(ip, subnetGateway(dhcp)) && dhcp.ExternalIDs[SubnetGatewayRouterKey] == "" {
		t.SetMapKeys(dhcp, &dhcp.ExternalIDs, map[string]string{SubnetGatewayRouterKey: lr.UUID})
	}
	if _, err := a.commit(ctx, "add_router_interface", t); err != nil {
		return nil, err
	}
	return &RouterInterface{RouterID: lr.UUID, PortID: portID, SubnetID: dhcp.UUID, NetworkID: ls.UUID}, nil
}

// DeleteRouterInterface removes a router port pair identified by its port,
// by its subnet, or by both.
func (a *NeutronAPI) DeleteRouterInterface(ctx context.Context, routerID string, args RouterInterfaceArgs) (*RouterInterface, error) {
	if args.SubnetID == "" && args.PortID == "" {
		return nil, apierr.BadRequestf("Either subnet_id or port_id must be specified")
	}
	lr, err := a.ops.GetLogicalRouter(ctx, routerID)
	if err != nil {
		return nil, err
	}

	var dhcp *ovndb.DHCPOptions
	if args.SubnetID != "" {
		if dhcp, err = a.subnet(ctx, args.SubnetID); err != nil {
			return nil, err
		}
	}
	portID := args.PortID
	if portID == "" {
		if portID, err = a.interfaceOnSubnet(ctx, lr, dhcp); err != nil {
			return nil, err
		}
	}

	lsp, err := a.ops.GetLogicalSwitchPort(ctx, portID)
	if err != nil {
		return nil, err
	}
	lrp, err := a.ops.GetLogicalRouterPortByName(ctx, ovndb.LRPName(portID))
	if err != nil && !ovndb.IsNotFound(err) {
		return nil, err
	}
	if err := portIsConnectedToRouter(lsp, lr, lrp); err != nil {
		return nil, err
	}
	ls, err := a.ops.LogicalSwitchForPort(ctx, portID)
	if err != nil {
		return nil, err
	}
	if dhcp == nil {
		if dhcp, err = a.subnetOfNetwork(ctx, ls.UUID); err != nil {
			return nil, err
		}
	} else if dhcp.ExternalIDs[SubnetNetworkIDKey] != ls.UUID {
		return nil, apierr.Conflictf("Port %s is not on subnet %s", portID, dhcp.UUID)
	}

	t := a.ops.Txn()
	gw, err := a.routerGateway(ctx, lr)
	if err != nil {
		return nil, err
	}
	if gw != nil && gw.PortID == portID {
		routes, err := a.ops.StaticRoutes(ctx, lr)
		if err != nil {
			return nil, err
		}
		teardownGateway(t, lr, routes, gw)
	} else {
		t.RemoveLogicalSwitchPort(ls.UUID, portID)
		t.RemoveLogicalRouterPort(lr.UUID, lrp.UUID)
	}
	if dhcp != nil && dhcp.ExternalIDs[SubnetGatewayRouterKey] == lr.UUID && lrpHasIP(lrp, subnetGateway(dhcp)) {
		t.RemoveMapKeys(dhcp, &dhcp.ExternalIDs, SubnetGatewayRouterKey)
	}
	if _, err := a.commit(ctx, "delete_router_interface", t); err != nil {
		return nil, err
	}

	ri := &RouterInterface{RouterID: lr.UUID, PortID: portID, NetworkID: ls.UUID}
	if dhcp != nil {
		ri.SubnetID = dhcp.UUID
	}
	return ri, nil
}

// interfaceOnSubnet finds the switch port of the router interface on the
// subnet's network.
func (a *NeutronAPI) interfaceOnSubnet(ctx context.Context, lr *ovndb.LogicalRouter, dhcp *ovndb.DHCPOptions) (string, error) {
	lrps, err := a.routerPorts(ctx, lr)
	if err != nil {
		return "", err
	}
	networkID := dhcp.ExternalIDs[SubnetNetworkIDKey]
	for _, lrp := range lrps {
		lspID := strings.TrimPrefix(lrp.Name, ovndb.LRPNamePrefix)
		ls, err := a.ops.LogicalSwitchForPort(ctx, lspID)
		if err != nil {
			if ovndb.IsNotFound(err) {
				continue
			}
			return "", err
		}
		if ls.UUID == networkID {
			return lspID, nil
		}
	}
	return "", apierr.NotFound("Router %s has no interface on subnet %s", lr.UUID, dhcp.UUID)
}

func lrpHasIP(lrp *ovndb.LogicalRouterPort, ip string) bool {
	if lrp == nil || ip == "" {
		return false
	}
	for _, network := range lrp.Networks {
		if addr, _, err := net.ParseCIDR(network); err == nil && sameIP(addr.String(), ip) {
			return true
		}
	}
	return false
}
