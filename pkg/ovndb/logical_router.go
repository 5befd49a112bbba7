// Package ovndb provides Logical Router, Logical Router Port and static
// route operations.
//
// A router attachment is a Logical Router Port named "lrp<lsp-uuid>" paired
// with a switch port of type "router" whose options:router-port holds that
// name.
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/router.go
package ovndb

import (
	"context"
)

// LRPNamePrefix prefixes the switch port UUID to form the peer router port
// name.
const LRPNamePrefix = "lrp"

// LRPName returns the Logical Router Port name paired with a switch port.
func LRPName(lspUUID string) string {
	return LRPNamePrefix + lspUUID
}

// GetLogicalRouter retrieves a Logical Router by UUID.
func (o *Ops) GetLogicalRouter(ctx context.Context, uuid string) (*LogicalRouter, error) {
	lr := &LogicalRouter{UUID: uuid}
	if err := o.get(ctx, LogicalRouterTable, uuid, lr); err != nil {
		return nil, err
	}
	return lr, nil
}

// ListLogicalRouters lists all Logical Routers.
func (o *Ops) ListLogicalRouters(ctx context.Context) ([]*LogicalRouter, error) {
	var routers []*LogicalRouter
	if err := o.list(ctx, LogicalRouterTable, &routers); err != nil {
		return nil, err
	}
	return routers, nil
}

// AddLogicalRouter queues the insert of lr.
func (t *Txn) AddLogicalRouter(lr *LogicalRouter) *Txn {
	return t.Insert(lr)
}

// RemoveLogicalRouter queues the delete of a router. Its ports and static
// routes are garbage collected by the database.
func (t *Txn) RemoveLogicalRouter(uuid string) *Txn {
	return t.Delete(&LogicalRouter{UUID: uuid})
}

// GetLogicalRouterPort retrieves a Logical Router Port by UUID.
func (o *Ops) GetLogicalRouterPort(ctx context.Context, uuid string) (*LogicalRouterPort, error) {
	lrp := &LogicalRouterPort{UUID: uuid}
	if err := o.get(ctx, LogicalRouterPortTable, uuid, lrp); err != nil {
		return nil, err
	}
	return lrp, nil
}

// GetLogicalRouterPortByName retrieves a Logical Router Port by name.
func (o *Ops) GetLogicalRouterPortByName(ctx context.Context, name string) (*LogicalRouterPort, error) {
	lrp := &LogicalRouterPort{Name: name}
	if err := o.get(ctx, LogicalRouterPortTable, name, lrp); err != nil {
		return nil, err
	}
	return lrp, nil
}

// ListLogicalRouterPorts lists all Logical Router Ports.
func (o *Ops) ListLogicalRouterPorts(ctx context.Context) ([]*LogicalRouterPort, error) {
	var ports []*LogicalRouterPort
	if err := o.list(ctx, LogicalRouterPortTable, &ports); err != nil {
		return nil, err
	}
	return ports, nil
}

// LogicalRouterForPort returns the router whose ports contain lrpUUID.
func (o *Ops) LogicalRouterForPort(ctx context.Context, lrpUUID string) (*LogicalRouter, error) {
	routers, err := o.ListLogicalRouters(ctx)
	if err != nil {
		return nil, err
	}
	for _, lr := range routers {
		for _, p := range lr.Ports {
			if p == lrpUUID {
				return lr, nil
			}
		}
	}
	return nil, NewObjectNotFoundError(LogicalRouterTable, "for port "+lrpUUID)
}

// AddLogicalRouterPort queues the insert of lrp and its attachment to the
// router lrUUID. lrp.UUID must be a named UUID.
func (t *Txn) AddLogicalRouterPort(lrUUID string, lrp *LogicalRouterPort) *Txn {
	lr := &LogicalRouter{UUID: lrUUID}
	return t.Insert(lrp).Mutate(lr, insertInto(&lr.Ports, lrp.UUID))
}

// RemoveLogicalRouterPort queues the detachment and delete of a router port.
func (t *Txn) RemoveLogicalRouterPort(lrUUID, lrpUUID string) *Txn {
	lr := &LogicalRouter{UUID: lrUUID}
	return t.Mutate(lr, deleteFrom(&lr.Ports, lrpUUID)).Delete(&LogicalRouterPort{UUID: lrpUUID})
}

// StaticRoutes returns the static routes of lr.
func (o *Ops) StaticRoutes(ctx context.Context, lr *LogicalRouter) ([]*LogicalRouterStaticRoute, error) {
	routes := make([]*LogicalRouterStaticRoute, 0, len(lr.StaticRoutes))
	for _, id := range lr.StaticRoutes {
		route := &LogicalRouterStaticRoute{UUID: id}
		if err := o.get(ctx, LogicalRouterStaticRouteTable, id, route); err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// AddStaticRoute is lr_route_add: it queues the insert of a route and its
// attachment to the router lrUUID.
func (t *Txn) AddStaticRoute(lrUUID, prefix, nexthop string) *Txn {
	route := &LogicalRouterStaticRoute{
		UUID:     BuildNamedUUID(),
		IPPrefix: prefix,
		Nexthop:  nexthop,
	}
	lr := &LogicalRouter{UUID: lrUUID}
	return t.Insert(route).Mutate(lr, insertInto(&lr.StaticRoutes, route.UUID))
}

// RemoveStaticRoute queues the detachment and delete of a static route.
func (t *Txn) RemoveStaticRoute(lrUUID, routeUUID string) *Txn {
	lr := &LogicalRouter{UUID: lrUUID}
	return t.Mutate(lr, deleteFrom(&lr.StaticRoutes, routeUUID)).
		Delete(&LogicalRouterStaticRoute{UUID: routeUUID})
}
