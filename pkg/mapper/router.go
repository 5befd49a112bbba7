package mapper

import (
	"context"
	"encoding/json"
	"net"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
)

// Router payload keys
const (
	RouterKey  = "router"
	RoutersKey = "routers"
)

type routerRequest struct {
	Name         *string         `json:"name"`
	AdminStateUp *bool           `json:"admin_state_up"`
	Gateway      json.RawMessage `json:"external_gateway_info"`
	Routes       json.RawMessage `json:"routes"`

	gateway *neutron.GatewayInfo
	routes  *[]neutron.Route
}

type gatewayRequest struct {
	NetworkID        *string           `json:"network_id"`
	EnableSNAT       *bool             `json:"enable_snat"`
	ExternalFixedIPs []json.RawMessage `json:"external_fixed_ips"`
}

type routeRequest struct {
	Destination string `json:"destination"`
	Nexthop     string `json:"nexthop"`
}

var routerOptional = []string{"name", "admin_state_up", "external_gateway_info", "routes"}

var (
	addRouterKeys    = Keys{Optional: optional(routerOptional, tenantKeys)}
	updateRouterKeys = Keys{Optional: routerOptional}
	gatewayKeys      = Keys{Mandatory: []string{"network_id", "external_fixed_ips"}, Optional: []string{"enable_snat"}}
	externalIPKeys   = Keys{Mandatory: []string{"subnet_id", "ip_address"}}
	routeKeys        = Keys{Mandatory: []string{"destination", "nexthop"}}
)

// ExternalGatewayResponse is the external_gateway_info of a router.
type ExternalGatewayResponse struct {
	NetworkID        string            `json:"network_id"`
	EnableSNAT       bool              `json:"enable_snat"`
	ExternalFixedIPs []FixedIPResponse `json:"external_fixed_ips"`
}

// RouteResponse is a router static route.
type RouteResponse struct {
	Destination string `json:"destination"`
	Nexthop     string `json:"nexthop"`
}

// RouterResponse is the REST form of a router.
type RouterResponse struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	TenantID        string                   `json:"tenant_id"`
	ProjectID       string                   `json:"project_id"`
	AdminStateUp    bool                     `json:"admin_state_up"`
	Status          string                   `json:"status"`
	ExternalGateway *ExternalGatewayResponse `json:"external_gateway_info"`
	Routes          []RouteResponse          `json:"routes"`
}

// parseGateway reads external_gateway_info. null and {} remove the gateway.
func parseGateway(raw json.RawMessage) (*neutron.GatewayInfo, error) {
	if isNull(raw) || string(raw) == "{}" {
		return nil, nil
	}
	var gw gatewayRequest
	if _, err := Decode(raw, "", gatewayKeys, &gw); err != nil {
		return nil, err
	}
	if lo.FromPtr(gw.EnableSNAT) {
		return nil, apierr.NotImplementedf("enable_snat is not supported")
	}
	if len(gw.ExternalFixedIPs) != 1 {
		return nil, errInvalidInput("external_fixed_ips", "exactly one external fixed IP is required, got %d", len(gw.ExternalFixedIPs))
	}
	var fixed struct {
		SubnetID  string `json:"subnet_id"`
		IPAddress string `json:"ip_address"`
	}
	if _, err := Decode(gw.ExternalFixedIPs[0], "", externalIPKeys, &fixed); err != nil {
		return nil, err
	}
	if net.ParseIP(fixed.IPAddress) == nil {
		return nil, errInvalidInput("external_fixed_ips", "'%s' is not a valid IP address", fixed.IPAddress)
	}
	return &neutron.GatewayInfo{
		NetworkID: lo.FromPtr(gw.NetworkID),
		SubnetID:  fixed.SubnetID,
		IP:        fixed.IPAddress,
	}, nil
}

func parseRoutes(raw json.RawMessage) ([]neutron.Route, error) {
	if isNull(raw) {
		return []neutron.Route{}, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, errInvalidInput("routes", "must be a list")
	}
	routes := make([]neutron.Route, 0, len(elements))
	for _, elem := range elements {
		var r routeRequest
		if _, err := Decode(elem, "", routeKeys, &r); err != nil {
			return nil, err
		}
		if _, _, err := net.ParseCIDR(r.Destination); err != nil {
			return nil, errInvalidInput("routes", "'%s' is not a valid CIDR", r.Destination)
		}
		if net.ParseIP(r.Nexthop) == nil {
			return nil, errInvalidInput("routes", "'%s' is not a valid IP address", r.Nexthop)
		}
		routes = append(routes, neutron.Route{Destination: r.Destination, Nexthop: r.Nexthop})
	}
	return routes, nil
}

func validateRouter(req *routerRequest, fields Fields) error {
	if fields.Has("external_gateway_info") {
		gw, err := parseGateway(req.Gateway)
		if err != nil {
			return err
		}
		req.gateway = gw
	}
	if fields.Has("routes") {
		routes, err := parseRoutes(req.Routes)
		if err != nil {
			return err
		}
		req.routes = &routes
	}
	return nil
}

func routerArgs(req *routerRequest, fields Fields) neutron.RouterArgs {
	return neutron.RouterArgs{
		Name:       req.Name,
		Enabled:    req.AdminStateUp,
		GatewaySet: fields.Has("external_gateway_info"),
		Gateway:    req.gateway,
		Routes:     req.routes,
	}
}

// RenderRouter builds the REST form of r.
func (m *Mapper) RenderRouter(r *neutron.Router) interface{} {
	resp := &RouterResponse{
		ID:           r.ID(),
		Name:         r.LR.Name,
		TenantID:     m.tenantID,
		ProjectID:    m.tenantID,
		AdminStateUp: r.Enabled(),
		Status:       StatusActive,
		Routes: lo.Map(r.UserRoutes(), func(route neutron.Route, _ int) RouteResponse {
			return RouteResponse{Destination: route.Destination, Nexthop: route.Nexthop}
		}),
	}
	if !resp.AdminStateUp {
		resp.Status = StatusDown
	}
	if gw := r.Gateway; gw != nil {
		resp.ExternalGateway = &ExternalGatewayResponse{
			NetworkID:        gw.NetworkID,
			ExternalFixedIPs: []FixedIPResponse{{IPAddress: gw.IP, SubnetID: gw.SubnetID}},
		}
	}
	return resp
}

// ListRouters serves GET routers.
func (m *Mapper) ListRouters(ctx context.Context) (interface{}, error) {
	routers, err := m.api.ListRouters(ctx)
	return List(RoutersKey, routers, err, m.RenderRouter)
}

// GetRouter serves GET routers/{id}.
func (m *Mapper) GetRouter(ctx context.Context, id string) (interface{}, error) {
	r, err := m.api.GetRouter(ctx, id)
	return One(RouterKey, r, err, m.RenderRouter)
}

// AddRouter serves POST routers.
func (m *Mapper) AddRouter(ctx context.Context, body []byte) (interface{}, error) {
	return Run(Operation[routerRequest, *neutron.Router]{
		Key:      RouterKey,
		Keys:     addRouterKeys,
		Validate: validateRouter,
		Call: func(req *routerRequest, fields Fields) (*neutron.Router, error) {
			return m.api.AddRouter(ctx, routerArgs(req, fields))
		},
		Render: m.RenderRouter,
	}, body)
}

// UpdateRouter serves PUT routers/{id}.
func (m *Mapper) UpdateRouter(ctx context.Context, id string, body []byte) (interface{}, error) {
	return Run(Operation[routerRequest, *neutron.Router]{
		Key:      RouterKey,
		Keys:     updateRouterKeys,
		Validate: validateRouter,
		Call: func(req *routerRequest, fields Fields) (*neutron.Router, error) {
			return m.api.UpdateRouter(ctx, id, routerArgs(req, fields))
		},
		Render: m.RenderRouter,
	}, body)
}

// DeleteRouter serves DELETE routers/{id}.
func (m *Mapper) DeleteRouter(ctx context.Context, id string) error {
	return m.api.DeleteRouter(ctx, id)
}

type routerInterfaceRequest struct {
	SubnetID *string `json:"subnet_id"`
	PortID   *string `json:"port_id"`
}

var routerInterfaceKeys = Keys{Optional: optional([]string{"subnet_id", "port_id"}, tenantKeys)}

// RouterInterfaceResponse is the REST form of a router interface.
type RouterInterfaceResponse struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	ProjectID string   `json:"project_id"`
	PortID    string   `json:"port_id"`
	NetworkID string   `json:"network_id"`
	SubnetID  string   `json:"subnet_id"`
	SubnetIDs []string `json:"subnet_ids"`
}

func (m *Mapper) renderRouterInterface(ri *neutron.RouterInterface) interface{} {
	return &RouterInterfaceResponse{
		ID:        ri.RouterID,
		TenantID:  m.tenantID,
		ProjectID: m.tenantID,
		PortID:    ri.PortID,
		NetworkID: ri.NetworkID,
		SubnetID:  ri.SubnetID,
		SubnetIDs: lo.Compact([]string{ri.SubnetID}),
	}
}

func routerInterfaceArgs(req *routerInterfaceRequest) neutron.RouterInterfaceArgs {
	return neutron.RouterInterfaceArgs{SubnetID: lo.FromPtr(req.SubnetID), PortID: lo.FromPtr(req.PortID)}
}

// AddRouterInterface serves PUT routers/{id}/add_router_interface. Exactly
// one of subnet_id and port_id selects what to attach.
func (m *Mapper) AddRouterInterface(ctx context.Context, routerID string, body []byte) (interface{}, error) {
	return Run(Operation[routerInterfaceRequest, *neutron.RouterInterface]{
		Keys: routerInterfaceKeys,
		Validate: func(req *routerInterfaceRequest, _ Fields) error {
			subnet, port := lo.FromPtr(req.SubnetID), lo.FromPtr(req.PortID)
			if (subnet == "") == (port == "") {
				return apierr.BadRequestf("Exactly one of subnet_id and port_id must be given")
			}
			return nil
		},
		Call: func(req *routerInterfaceRequest, _ Fields) (*neutron.RouterInterface, error) {
			return m.api.AddRouterInterface(ctx, routerID, routerInterfaceArgs(req))
		},
		Render: m.renderRouterInterface,
	}, body)
}

// DeleteRouterInterface serves PUT routers/{id}/remove_router_interface.
func (m *Mapper) DeleteRouterInterface(ctx context.Context, routerID string, body []byte) (interface{}, error) {
	return Run(Operation[routerInterfaceRequest, *neutron.RouterInterface]{
		Keys: routerInterfaceKeys,
		Validate: func(req *routerInterfaceRequest, _ Fields) error {
			if lo.FromPtr(req.SubnetID) == "" && lo.FromPtr(req.PortID) == "" {
				return errMissingData([]string{"port_id", "subnet_id"})
			}
			return nil
		},
		Call: func(req *routerInterfaceRequest, _ Fields) (*neutron.RouterInterface, error) {
			return m.api.DeleteRouterInterface(ctx, routerID, routerInterfaceArgs(req))
		},
		Render: m.renderRouterInterface,
	}, body)
}
