package neutron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// externalNetwork creates a provider network with the subnet
// 172.24.0.0/24 and returns the network and subnet ids.
func externalNetwork(t *testing.T, api *NeutronAPI) (string, string) {
	t.Helper()
	n, err := api.AddNetwork(context.Background(), NetworkArgs{
		Name:        strPtr("public"),
		Localnet:    strPtr("physnet"),
		NetworkType: strPtr(NetworkTypeFlat),
	})
	require.NoError(t, err)
	return n.LS.UUID, mustSubnet(t, api, n.LS.UUID, "172.24.0.0/24", "172.24.0.1")
}

func routeKeys(routes []*ovndb.LogicalRouterStaticRoute) []string {
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		out = append(out, routeKey(r.IPPrefix, r.Nexthop))
	}
	return out
}

func TestAddRouterWithRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	r, err := api.AddRouter(ctx, RouterArgs{
		Name:   strPtr("r1"),
		Routes: &[]Route{{Destination: "10.1.0.0/16", Nexthop: "10.0.0.2"}, {Destination: "0.0.0.0/0", Nexthop: "10.0.0.3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", r.LR.Name)
	require.NotNil(t, r.LR.Enabled)
	assert.True(t, *r.LR.Enabled)
	assert.Nil(t, r.Gateway)
	assert.ElementsMatch(t, []string{"10.1.0.0/16 via 10.0.0.2", "0.0.0.0/0 via 10.0.0.3"}, routeKeys(r.Routes))

	routers, err := api.ListRouters(ctx)
	require.NoError(t, err)
	require.Len(t, routers, 1)
}

func TestAddRouterWithGateway(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID, subnetID := externalNetwork(t, api)

	r, err := api.AddRouter(ctx, RouterArgs{
		Name:    strPtr("r1"),
		Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.100"},
		Routes:  &[]Route{{Destination: "10.1.0.0/16", Nexthop: "172.24.0.2"}},
	})
	require.NoError(t, err)
	require.NotNil(t, r.Gateway)
	assert.Equal(t, netID, r.Gateway.NetworkID)
	assert.Equal(t, subnetID, r.Gateway.SubnetID)
	assert.Equal(t, "172.24.0.100", r.Gateway.IP)
	assert.ElementsMatch(t, []string{"10.1.0.0/16 via 172.24.0.2", "0.0.0.0/0 via 172.24.0.1"}, routeKeys(r.Routes))

	ls := mustSwitch(t, api, netID)
	ips, _ := ovndb.ExcludeIPs(ls)
	assert.Equal(t, []string{"172.24.0.100"}, ips)

	gwPort, err := api.GetPort(ctx, r.Gateway.PortID)
	require.NoError(t, err)
	assert.Equal(t, ovndb.PortTypeRouter, gwPort.LSP.Type)
	assert.Equal(t, DeviceOwnerRouterGateway, gwPort.LSP.ExternalIDs[PortDeviceOwnerKey])
	assert.Equal(t, r.LR.UUID, gwPort.LSP.ExternalIDs[PortDeviceIDKey])
	assert.Equal(t, ovndb.LRPName(gwPort.LSP.UUID), gwPort.LSP.Options[ovndb.OptionRouterPort])
	require.NotNil(t, gwPort.RouterPort)
	assert.Equal(t, []string{"172.24.0.100/24"}, gwPort.RouterPort.Networks)

	// The gateway IP is taken now.
	_, err = api.AddPort(ctx, PortArgs{NetworkID: netID, FixedIPs: fixedIPs("172.24.0.100")})
	assert.True(t, apierr.IsConflict(err), "got %v", err)

	err = api.DeleteSubnet(ctx, subnetID)
	assert.True(t, apierr.IsConflict(err), "got %v", err)
}

func TestAddRouterGatewayValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID, subnetID := externalNetwork(t, api)
	otherID := mustNetwork(t, api, "other")
	noGatewayNet := mustNetwork(t, api, "nogw")
	noGatewaySubnet := mustSubnet(t, api, noGatewayNet, "10.9.0.0/24", "")
	mustPort(t, api, PortArgs{NetworkID: netID, FixedIPs: fixedIPs("172.24.0.50")})

	tests := []struct {
		name    string
		args    RouterArgs
		isValid func(error) bool
	}{
		{
			name: "default route next to gateway",
			args: RouterArgs{
				Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.100"},
				Routes:  &[]Route{{Destination: "0.0.0.0/0", Nexthop: "172.24.0.2"}},
			},
			isValid: apierr.IsBadRequest,
		},
		{
			name:    "ip outside subnet",
			args:    RouterArgs{Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "10.0.0.100"}},
			isValid: apierr.IsBadRequest,
		},
		{
			name:    "ip in use",
			args:    RouterArgs{Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.50"}},
			isValid: apierr.IsConflict,
		},
		{
			name:    "subnet of another network",
			args:    RouterArgs{Gateway: &GatewayInfo{NetworkID: otherID, SubnetID: subnetID, IP: "172.24.0.100"}},
			isValid: apierr.IsBadRequest,
		},
		{
			name:    "subnet without gateway",
			args:    RouterArgs{Gateway: &GatewayInfo{NetworkID: noGatewayNet, SubnetID: noGatewaySubnet, IP: "10.9.0.100"}},
			isValid: apierr.IsBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.AddRouter(ctx, tt.args)
			assert.True(t, tt.isValid(err), "got %v", err)
		})
	}

	routers, err := api.ListRouters(ctx)
	require.NoError(t, err)
	assert.Empty(t, routers)
}

func TestUpdateRouterGateway(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID, subnetID := externalNetwork(t, api)
	r, err := api.AddRouter(ctx, RouterArgs{
		Name:    strPtr("r1"),
		Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.100"},
	})
	require.NoError(t, err)
	oldPort := r.Gateway.PortID

	r, err = api.UpdateRouter(ctx, r.LR.UUID, RouterArgs{
		GatewaySet: true,
		Gateway:    &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.101"},
	})
	require.NoError(t, err)
	require.NotNil(t, r.Gateway)
	assert.Equal(t, "172.24.0.101", r.Gateway.IP)
	assert.NotEqual(t, oldPort, r.Gateway.PortID)
	assert.Equal(t, []string{"0.0.0.0/0 via 172.24.0.1"}, routeKeys(r.Routes))
	ips, _ := ovndb.ExcludeIPs(mustSwitch(t, api, netID))
	assert.Equal(t, []string{"172.24.0.101"}, ips)
	_, err = api.GetPort(ctx, oldPort)
	assert.True(t, apierr.IsNotFound(err))

	r, err = api.UpdateRouter(ctx, r.LR.UUID, RouterArgs{GatewaySet: true})
	require.NoError(t, err)
	assert.Nil(t, r.Gateway)
	assert.Empty(t, r.Routes)
	assert.Empty(t, r.LR.Ports)
	assert.NotContains(t, mustSwitch(t, api, netID).OtherConfig, ovndb.LSOtherConfigExcludeIPs)

	require.NoError(t, api.DeleteSubnet(ctx, subnetID))
}

func TestUpdateRouterGatewayKeepsOldGatewayOnFailure(t *testing.T) {
	api, nb := newTestAPI(t)
	ctx := context.Background()
	netID, subnetID := externalNetwork(t, api)
	r, err := api.AddRouter(ctx, RouterArgs{
		Name:    strPtr("r1"),
		Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.100"},
	})
	require.NoError(t, err)
	oldPort := r.Gateway.PortID

	// Fail the transaction that names the new gateway port.
	calls := 0
	nb.TransactHook = func(ops []ovndb.Op) error {
		calls++
		if calls == 2 {
			return assert.AnError
		}
		return nil
	}
	_, err = api.UpdateRouter(ctx, r.LR.UUID, RouterArgs{
		Name:       strPtr("r2"),
		GatewaySet: true,
		Gateway:    &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.101"},
	})
	require.Error(t, err)
	nb.TransactHook = nil

	r, err = api.GetRouter(ctx, r.LR.UUID)
	require.NoError(t, err)
	assert.Equal(t, "r1", r.LR.Name)
	require.NotNil(t, r.Gateway)
	assert.Equal(t, oldPort, r.Gateway.PortID)
	assert.Equal(t, "172.24.0.100", r.Gateway.IP)
	assert.Equal(t, []string{"0.0.0.0/0 via 172.24.0.1"}, routeKeys(r.Routes))
	ls := mustSwitch(t, api, netID)
	ips, _ := ovndb.ExcludeIPs(ls)
	assert.Equal(t, []string{"172.24.0.100"}, ips)
	assert.Equal(t, []string{oldPort}, ls.Ports)
}

func TestUpdateRouterRoutes(t *testing.T) {
	api, nb := newTestAPI(t)
	ctx := context.Background()
	r, err := api.AddRouter(ctx, RouterArgs{
		Name:   strPtr("r1"),
		Routes: &[]Route{{Destination: "10.1.0.0/16", Nexthop: "10.0.0.2"}, {Destination: "10.2.0.0/16", Nexthop: "10.0.0.2"}},
	})
	require.NoError(t, err)
	kept := lookupRoute(r.Routes, "10.1.0.0/16")

	r, err = api.UpdateRouter(ctx, r.LR.UUID, RouterArgs{
		Name:    strPtr("r2"),
		Enabled: boolPtr(false),
		Routes:  &[]Route{{Destination: "10.1.0.0/16", Nexthop: "10.0.0.2"}, {Destination: "10.3.0.0/16", Nexthop: "10.0.0.4"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "r2", r.LR.Name)
	assert.False(t, *r.LR.Enabled)
	assert.ElementsMatch(t, []string{"10.1.0.0/16 via 10.0.0.2", "10.3.0.0/16 via 10.0.0.4"}, routeKeys(r.Routes))
	// Unchanged routes keep their rows.
	assert.Equal(t, kept, lookupRoute(r.Routes, "10.1.0.0/16"))

	before := nb.Transactions
	_, err = api.UpdateRouter(ctx, r.LR.UUID, RouterArgs{
		Routes: &[]Route{{Destination: "10.1.0.0/16", Nexthop: "10.0.0.2"}, {Destination: "10.3.0.0/16", Nexthop: "10.0.0.4"}},
	})
	require.NoError(t, err)
	assert.Equal(t, before, nb.Transactions)
}

func lookupRoute(routes []*ovndb.LogicalRouterStaticRoute, prefix string) string {
	for _, r := range routes {
		if r.IPPrefix == prefix {
			return r.UUID
		}
	}
	return ""
}

func TestUpdateRouterGatewayRejectsExistingDefaultRoute(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID, subnetID := externalNetwork(t, api)
	r, err := api.AddRouter(ctx, RouterArgs{Routes: &[]Route{{Destination: "0.0.0.0/0", Nexthop: "10.0.0.1"}}})
	require.NoError(t, err)

	_, err = api.UpdateRouter(ctx, r.LR.UUID, RouterArgs{
		GatewaySet: true,
		Gateway:    &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.100"},
	})
	assert.True(t, apierr.IsBadRequest(err), "got %v", err)
}

func TestDeleteRouter(t *testing.T) {
	api, nb := newTestAPI(t)
	ctx := context.Background()
	netID, subnetID := externalNetwork(t, api)
	r, err := api.AddRouter(ctx, RouterArgs{Gateway: &GatewayInfo{NetworkID: netID, SubnetID: subnetID, IP: "172.24.0.100"}})
	require.NoError(t, err)

	require.NoError(t, api.DeleteRouter(ctx, r.LR.UUID))
	_, err = api.GetRouter(ctx, r.LR.UUID)
	assert.True(t, apierr.IsNotFound(err))

	ls := mustSwitch(t, api, netID)
	assert.NotContains(t, ls.OtherConfig, ovndb.LSOtherConfigExcludeIPs)
	ports, err := api.ListPorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, ports)
	var routes []*ovndb.LogicalRouterStaticRoute
	require.NoError(t, nb.List(ctx, &routes))
	assert.Empty(t, routes)
}
