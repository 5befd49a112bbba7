package neutron

import (
	"context"
	"net"
	"strings"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// gatewayState is the external gateway of a router with the rows that
// implement it.
type gatewayState struct {
	RouterGateway
	ls  *ovndb.LogicalSwitch
	lrp *ovndb.LogicalRouterPort
}

// routerGateway resolves the external gateway of lr, or returns nil.
func (a *NeutronAPI) routerGateway(ctx context.Context, lr *ovndb.LogicalRouter) (*gatewayState, error) {
	lspID := lr.ExternalIDs[RouterGatewayPortKey]
	if lspID == "" {
		return nil, nil
	}
	ls, err := a.ops.LogicalSwitchForPort(ctx, lspID)
	if err != nil {
		if ovndb.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	lrp, err := a.ops.GetLogicalRouterPortByName(ctx, ovndb.LRPName(lspID))
	if err != nil {
		return nil, err
	}
	gw := &gatewayState{
		RouterGateway: RouterGateway{NetworkID: ls.UUID, PortID: lspID},
		ls:            ls,
		lrp:           lrp,
	}
	if len(lrp.Networks) > 0 {
		if ip, _, err := net.ParseCIDR(lrp.Networks[0]); err == nil {
			gw.IP = ip.String()
		}
	}
	dhcp, err := a.subnetOfNetwork(ctx, ls.UUID)
	if err != nil {
		return nil, err
	}
	if dhcp != nil {
		gw.SubnetID = dhcp.UUID
	}
	return gw, nil
}

// routersWithGatewayOn returns the routers whose external gateway port is
// attached to ls.
func (a *NeutronAPI) routersWithGatewayOn(ctx context.Context, ls *ovndb.LogicalSwitch) ([]*ovndb.LogicalRouter, error) {
	routers, err := a.ops.ListLogicalRouters(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(routers, func(lr *ovndb.LogicalRouter, _ int) bool {
		return lo.Contains(ls.Ports, lr.ExternalIDs[RouterGatewayPortKey])
	}), nil
}

func (a *NeutronAPI) routerView(ctx context.Context, lr *ovndb.LogicalRouter) (*Router, *gatewayState, error) {
	routes, err := a.ops.StaticRoutes(ctx, lr)
	if err != nil {
		return nil, nil, err
	}
	gw, err := a.routerGateway(ctx, lr)
	if err != nil {
		return nil, nil, err
	}
	r := &Router{LR: lr, Routes: routes}
	if gw != nil {
		r.Gateway = &gw.RouterGateway
	}
	return r, gw, nil
}

// ListRouters returns every Logical_Router.
func (a *NeutronAPI) ListRouters(ctx context.Context) ([]*Router, error) {
	routers, err := a.ops.ListLogicalRouters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Router, 0, len(routers))
	for _, lr := range routers {
		r, _, err := a.routerView(ctx, lr)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRouter returns one router.
func (a *NeutronAPI) GetRouter(ctx context.Context, id string) (*Router, error) {
	lr, err := a.ops.GetLogicalRouter(ctx, id)
	if err != nil {
		return nil, err
	}
	r, _, err := a.routerView(ctx, lr)
	return r, err
}

// validateGateway checks a requested external gateway: the subnet must
// belong to the network and have a gateway, and the IP must be a free
// address of the subnet.
func (a *NeutronAPI) validateGateway(ctx context.Context, gw GatewayInfo) error {
	ls, err := a.ops.GetLogicalSwitch(ctx, gw.NetworkID)
	if err != nil {
		return err
	}
	dhcp, err := a.subnet(ctx, gw.SubnetID)
	if err != nil {
		return err
	}
	if err := validateRoutingSubnet(dhcp, gw.NetworkID, "", true); err != nil {
		return err
	}
	if err := ipInSubnet(gw.IP, dhcp); err != nil {
		return err
	}
	ports, err := a.ops.PortsOfSwitch(ctx, ls)
	if err != nil {
		return err
	}
	return ipAvailableInNetwork(ls, ports, gw.IP, "")
}

// AddRouter creates a Logical_Router with its static routes and, when
// requested, its external gateway.
func (a *NeutronAPI) AddRouter(ctx context.Context, args RouterArgs) (*Router, error) {
	routes := lo.FromPtr(args.Routes)
	if args.Gateway != nil {
		if err := a.validateGateway(ctx, *args.Gateway); err != nil {
			return nil, err
		}
	}
	if err := noDefaultGatewayInRoutes(args.Gateway != nil, routes); err != nil {
		return nil, err
	}

	lr := &ovndb.LogicalRouter{
		UUID:        ovndb.BuildNamedUUID(),
		Name:        lo.FromPtr(args.Name),
		Enabled:     boolPtr(args.Enabled == nil || *args.Enabled),
		ExternalIDs: map[string]string{},
	}
	t := a.ops.Txn()
	for _, r := range routes {
		route := &ovndb.LogicalRouterStaticRoute{
			UUID:     ovndb.BuildNamedUUID(),
			IPPrefix: r.Destination,
			Nexthop:  r.Nexthop,
		}
		t.Insert(route)
		lr.StaticRoutes = append(lr.StaticRoutes, route.UUID)
	}
	t.AddLogicalRouter(lr)
	res, err := a.commit(ctx, "add_router", t)
	if err != nil {
		return nil, err
	}
	id := res.UUID(lr.UUID)

	if args.Gateway != nil {
		if err := a.addGateway(ctx, id, *args.Gateway); err != nil {
			log := logging.LoggerForOVN(ctx, "rollback_router").WithValues("router", id)
			if _, rbErr := a.ops.Txn().RemoveLogicalRouter(id).Commit(ctx); rbErr != nil {
				log.Error(rbErr, "Failed to delete router after a failed gateway setup")
			}
			return nil, err
		}
	}
	return a.GetRouter(ctx, id)
}

// gatewayPlan holds what a new external gateway needs before any row is
// written.
type gatewayPlan struct {
	info    GatewayInfo
	ls      *ovndb.LogicalSwitch
	dhcp    *ovndb.DHCPOptions
	network string
	mac     string
}

func (a *NeutronAPI) planGateway(ctx context.Context, gw GatewayInfo) (*gatewayPlan, error) {
	ls, err := a.ops.GetLogicalSwitch(ctx, gw.NetworkID)
	if err != nil {
		return nil, err
	}
	dhcp, err := a.subnet(ctx, gw.SubnetID)
	if err != nil {
		return nil, err
	}
	network, err := ipWithMask(gw.IP, dhcp)
	if err != nil {
		return nil, err
	}
	mac, err := a.generateMAC(ctx)
	if err != nil {
		return nil, err
	}
	return &gatewayPlan{info: gw, ls: ls, dhcp: dhcp, network: network, mac: mac}, nil
}

// addGateway attaches router id to an external network.
func (a *NeutronAPI) addGateway(ctx context.Context, routerID string, gw GatewayInfo) error {
	lr, err := a.ops.GetLogicalRouter(ctx, routerID)
	if err != nil {
		return err
	}
	plan, err := a.planGateway(ctx, gw)
	if err != nil {
		return err
	}
	return a.installGateway(ctx, lr, plan, nil)
}

// installGateway creates a router port pair with the gateway IP, reserves
// the IP in the network's exclude_ips and adds a default route through the
// subnet's gateway. Operations queued by before are committed in the same
// transaction as the gateway. On failure the new switch port is removed
// and nothing else has changed.
func (a *NeutronAPI) installGateway(ctx context.Context, lr *ovndb.LogicalRouter, plan *gatewayPlan, before func(t *ovndb.Txn)) error {
	_, err := a.createRouterPort(ctx, routerPortRequest{
		ls:       plan.ls,
		routerID: lr.UUID,
		mac:      plan.mac,
		network:  plan.network,
		owner:    DeviceOwnerRouterGateway,
	}, func(t *ovndb.Txn, lspUUID string) {
		if before != nil {
			before(t)
		}
		excluded, _ := ovndb.ExcludeIPs(plan.ls)
		t.SetMapKeys(plan.ls, &plan.ls.OtherConfig, map[string]string{
			ovndb.LSOtherConfigExcludeIPs: strings.Join(append(excluded, plan.info.IP), " "),
		})
		t.SetMapKeys(lr, &lr.ExternalIDs, map[string]string{RouterGatewayPortKey: lspUUID})
		t.AddStaticRoute(lr.UUID, defaultRouteFor(plan.info.IP), subnetGateway(plan.dhcp))
	})
	return err
}

// teardownGateway queues the removal of a router's external gateway: its
// port pair, its reserved IP and its default routes.
func teardownGateway(t *ovndb.Txn, lr *ovndb.LogicalRouter, routes []*ovndb.LogicalRouterStaticRoute, gw *gatewayState) {
	t.RemoveLogicalSwitchPort(gw.ls.UUID, gw.PortID)
	if gw.lrp != nil {
		t.RemoveLogicalRouterPort(lr.UUID, gw.lrp.UUID)
	}
	excluded, _ := ovndb.ExcludeIPs(gw.ls)
	kept := lo.Reject(excluded, func(ip string, _ int) bool { return sameIP(ip, gw.IP) })
	t.SetMapKeys(gw.ls, &gw.ls.OtherConfig, map[string]string{
		ovndb.LSOtherConfigExcludeIPs: strings.Join(kept, " "),
	})
	for _, r := range routes {
		if IsDefaultRoute(r.IPPrefix) {
			t.RemoveStaticRoute(lr.UUID, r.UUID)
		}
	}
	t.RemoveMapKeys(lr, &lr.ExternalIDs, RouterGatewayPortKey)
}

func routeKey(prefix, nexthop string) string {
	return prefix + " via " + nexthop
}

// UpdateRouter patches name and state, replaces a changed external gateway
// and applies the minimal set of static route changes.
func (a *NeutronAPI) UpdateRouter(ctx context.Context, id string, args RouterArgs) (*Router, error) {
	lr, err := a.ops.GetLogicalRouter(ctx, id)
	if err != nil {
		return nil, err
	}
	current, gw, err := a.routerView(ctx, lr)
	if err != nil {
		return nil, err
	}

	removeGateway, installGateway := false, false
	hasGateway := gw != nil
	if args.GatewaySet {
		switch {
		case args.Gateway == nil:
			removeGateway = hasGateway
		case !hasGateway || gatewayChanged(gw.RouterGateway, *args.Gateway):
			removeGateway, installGateway = hasGateway, true
		}
		hasGateway = args.Gateway != nil
	}
	var plan *gatewayPlan
	if installGateway {
		if err := a.validateGateway(ctx, *args.Gateway); err != nil {
			return nil, err
		}
		if plan, err = a.planGateway(ctx, *args.Gateway); err != nil {
			return nil, err
		}
		// Teardown and install share the switch row when the gateway
		// stays on the same network.
		if gw != nil && gw.ls.UUID == plan.ls.UUID {
			plan.ls = gw.ls
		}
	}

	// Default routes of an existing gateway are owned by the gateway.
	var userRoutes []*ovndb.LogicalRouterStaticRoute
	for _, r := range current.Routes {
		if gw != nil && IsDefaultRoute(r.IPPrefix) {
			continue
		}
		userRoutes = append(userRoutes, r)
	}
	if args.Routes != nil {
		if err := noDefaultGatewayInRoutes(hasGateway, *args.Routes); err != nil {
			return nil, err
		}
	} else if installGateway {
		if err := noDefaultGatewayInRoutes(true, lo.Map(userRoutes, func(r *ovndb.LogicalRouterStaticRoute, _ int) Route {
			return Route{Destination: r.IPPrefix, Nexthop: r.Nexthop}
		})); err != nil {
			return nil, err
		}
	}

	changes := func(t *ovndb.Txn) {
		if args.Name != nil {
			lr.Name = *args.Name
			t.Update(lr, &lr.Name)
		}
		if args.Enabled != nil {
			lr.Enabled = boolPtr(*args.Enabled)
			t.Update(lr, &lr.Enabled)
		}
		if removeGateway {
			teardownGateway(t, lr, current.Routes, gw)
		}
		if args.Routes != nil {
			existing := map[string]*ovndb.LogicalRouterStaticRoute{}
			for _, r := range userRoutes {
				existing[routeKey(r.IPPrefix, r.Nexthop)] = r
			}
			have := sets.KeySet(existing)
			want := sets.New[string]()
			requested := map[string]Route{}
			for _, r := range *args.Routes {
				key := routeKey(r.Destination, r.Nexthop)
				want.Insert(key)
				requested[key] = r
			}
			for _, key := range sets.List(have.Difference(want)) {
				t.RemoveStaticRoute(id, existing[key].UUID)
			}
			for _, key := range sets.List(want.Difference(have)) {
				t.AddStaticRoute(id, requested[key].Destination, requested[key].Nexthop)
			}
		}
	}

	if installGateway {
		if err := a.installGateway(ctx, lr, plan, changes); err != nil {
			return nil, err
		}
		return a.GetRouter(ctx, id)
	}
	t := a.ops.Txn()
	changes(t)
	if t.Len() > 0 {
		if _, err := a.commit(ctx, "update_router", t); err != nil {
			return nil, err
		}
	}
	return a.GetRouter(ctx, id)
}

func gatewayChanged(current RouterGateway, requested GatewayInfo) bool {
	return current.NetworkID != requested.NetworkID ||
		current.SubnetID != requested.SubnetID ||
		!sameIP(current.IP, requested.IP)
}

// DeleteRouter tears down the external gateway and deletes a router that
// has no other ports.
func (a *NeutronAPI) DeleteRouter(ctx context.Context, id string) error {
	lr, err := a.ops.GetLogicalRouter(ctx, id)
	if err != nil {
		return err
	}
	current, gw, err := a.routerView(ctx, lr)
	if err != nil {
		return err
	}
	var ignore []string
	if gw != nil && gw.lrp != nil {
		ignore = append(ignore, gw.lrp.UUID)
	}
	if err := routerHasNoPorts(lr, ignore...); err != nil {
		return err
	}

	t := a.ops.Txn()
	if gw != nil {
		teardownGateway(t, lr, current.Routes, gw)
	}
	t.RemoveLogicalRouter(id)
	_, err = a.commit(ctx, "delete_router", t)
	return err
}
