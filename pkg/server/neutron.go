package server

import (
	"context"
	"net/http"

	"github.com/jiayi-1994/ovn-provider/pkg/auth"
	"github.com/jiayi-1994/ovn-provider/pkg/mapper"
	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
)

// resource is the set of mapper calls serving one collection.
type resource struct {
	path   string
	param  string
	list   func(ctx context.Context) (interface{}, error)
	get    func(ctx context.Context, id string) (interface{}, error)
	add    func(ctx context.Context, body []byte) (interface{}, error)
	update func(ctx context.Context, id string, body []byte) (interface{}, error)
	delete func(ctx context.Context, id string) error
}

// NewNeutronAPI builds the Networking API. Every request must carry a
// token accepted by authenticator.
func NewNeutronAPI(m *mapper.Mapper, authenticator *auth.Authenticator, filterExceptions []string) *API {
	a := newAPI(metrics.APINeutron, authenticator, filterExceptions)

	resources := []resource{
		{path: "networks", param: "network_id", list: m.ListNetworks, get: m.GetNetwork,
			add: m.AddNetwork, update: m.UpdateNetwork, delete: m.DeleteNetwork},
		{path: "ports", param: "port_id", list: m.ListPorts, get: m.GetPort,
			add: m.AddPort, update: m.UpdatePort, delete: m.DeletePort},
		{path: "subnets", param: "subnet_id", list: m.ListSubnets, get: m.GetSubnet,
			add: m.AddSubnet, update: m.UpdateSubnet, delete: m.DeleteSubnet},
		{path: "routers", param: "router_id", list: m.ListRouters, get: m.GetRouter,
			add: m.AddRouter, update: m.UpdateRouter, delete: m.DeleteRouter},
		{path: "security-groups", param: "security_group_id", list: m.ListSecurityGroups, get: m.GetSecurityGroup,
			add: m.AddSecurityGroup, update: m.UpdateSecurityGroup, delete: m.DeleteSecurityGroup},
		{path: "security-group-rules", param: "security_group_rule_id", list: m.ListSecurityGroupRules, get: m.GetSecurityGroupRule,
			add: m.AddSecurityGroupRule, delete: m.DeleteSecurityGroupRule},
	}
	for _, res := range resources {
		a.registerResource(res)
	}

	a.Handle(http.MethodPut, "routers/{router_id}/add_router_interface", func(ctx context.Context, req *Request) (interface{}, error) {
		return m.AddRouterInterface(ctx, req.Params["router_id"], req.Body)
	})
	a.Handle(http.MethodPut, "routers/{router_id}/remove_router_interface", func(ctx context.Context, req *Request) (interface{}, error) {
		return m.DeleteRouterInterface(ctx, req.Params["router_id"], req.Body)
	})
	a.Handle(http.MethodGet, "floatingips", func(context.Context, *Request) (interface{}, error) {
		return m.ListFloatingIPs(), nil
	})
	a.Handle(http.MethodGet, "extensions", func(context.Context, *Request) (interface{}, error) {
		return m.ListExtensions(), nil
	})
	return a
}

func (a *API) registerResource(res resource) {
	item := res.path + "/{" + res.param + "}"
	a.Handle(http.MethodGet, res.path, func(ctx context.Context, _ *Request) (interface{}, error) {
		return res.list(ctx)
	})
	a.Handle(http.MethodGet, item, func(ctx context.Context, req *Request) (interface{}, error) {
		return res.get(ctx, req.Params[res.param])
	})
	a.Handle(http.MethodPost, res.path, func(ctx context.Context, req *Request) (interface{}, error) {
		return res.add(ctx, req.Body)
	})
	if res.update != nil {
		a.Handle(http.MethodPut, item, func(ctx context.Context, req *Request) (interface{}, error) {
			return res.update(ctx, req.Params[res.param], req.Body)
		})
	}
	a.Handle(http.MethodDelete, item, func(ctx context.Context, req *Request) (interface{}, error) {
		return nil, res.delete(ctx, req.Params[res.param])
	})
}
