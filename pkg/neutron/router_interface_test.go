package neutron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

func mustRouter(t *testing.T, api *NeutronAPI, name string) string {
	t.Helper()
	r, err := api.AddRouter(context.Background(), RouterArgs{Name: strPtr(name)})
	require.NoError(t, err)
	return r.LR.UUID
}

func TestAddRouterInterfaceBySubnet(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, netID, "10.0.0.0/24", "10.0.0.1")
	routerID := mustRouter(t, api, "r1")

	ri, err := api.AddRouterInterface(ctx, routerID, RouterInterfaceArgs{SubnetID: subnetID})
	require.NoError(t, err)
	assert.Equal(t, routerID, ri.RouterID)
	assert.Equal(t, subnetID, ri.SubnetID)
	assert.Equal(t, netID, ri.NetworkID)

	p, err := api.GetPort(ctx, ri.PortID)
	require.NoError(t, err)
	assert.Equal(t, ovndb.PortTypeRouter, p.LSP.Type)
	assert.Equal(t, []string{ovndb.AddressRouter}, p.LSP.Addresses)
	assert.Equal(t, DeviceOwnerRouterInterface, p.LSP.ExternalIDs[PortDeviceOwnerKey])
	assert.Equal(t, ovndb.LRPName(ri.PortID), p.LSP.Options[ovndb.OptionRouterPort])
	require.NotNil(t, p.RouterPort)
	assert.Equal(t, []string{"10.0.0.1/24"}, p.RouterPort.Networks)
	require.NotNil(t, p.Subnet)
	assert.Equal(t, subnetID, p.Subnet.UUID)

	s, err := api.GetSubnet(ctx, subnetID)
	require.NoError(t, err)
	assert.Equal(t, routerID, s.DHCP.ExternalIDs[SubnetGatewayRouterKey])

	lr, err := api.ops.GetLogicalRouter(ctx, routerID)
	require.NoError(t, err)
	assert.Equal(t, []string{p.RouterPort.UUID}, lr.Ports)

	// Router-owned ports are managed through the router.
	err = api.DeletePort(ctx, ri.PortID)
	assert.True(t, apierr.IsConflict(err), "got %v", err)
	err = api.DeleteSubnet(ctx, subnetID)
	assert.True(t, apierr.IsConflict(err), "got %v", err)
	_, err = api.UpdateSubnet(ctx, subnetID, SubnetArgs{GatewayIP: strPtr("10.0.0.2")})
	assert.True(t, apierr.IsConflict(err), "got %v", err)
	err = api.DeleteRouter(ctx, routerID)
	assert.True(t, apierr.IsConflict(err), "got %v", err)
}

func TestAddRouterInterfaceRemovesSwitchPortOnFailure(t *testing.T) {
	api, nb := newTestAPI(t)
	ctx := context.Background()
	netID := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, netID, "10.0.0.0/24", "10.0.0.1")
	routerID := mustRouter(t, api, "r1")

	nb.TransactHook = func(ops []ovndb.Op) error {
		for _, op := range ops {
			if _, ok := op.Model.(*ovndb.LogicalRouterPort); ok && op.Kind == ovndb.OpInsert {
				return assert.AnError
			}
		}
		return nil
	}
	_, err := api.AddRouterInterface(ctx, routerID, RouterInterfaceArgs{SubnetID: subnetID})
	require.Error(t, err)
	nb.TransactHook = nil

	assert.Empty(t, mustSwitch(t, api, netID).Ports)
	lr, err := api.ops.GetLogicalRouter(ctx, routerID)
	require.NoError(t, err)
	assert.Empty(t, lr.Ports)
	s, err := api.GetSubnet(ctx, subnetID)
	require.NoError(t, err)
	assert.NotContains(t, s.DHCP.ExternalIDs, SubnetGatewayRouterKey)
}

func TestAddRouterInterfaceBySubnetValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, netID, "10.0.0.0/24", "10.0.0.1")
	noGatewayNet := mustNetwork(t, api, "net2")
	noGatewaySubnet := mustSubnet(t, api, noGatewayNet, "10.1.0.0/24", "")
	r1 := mustRouter(t, api, "r1")
	r2 := mustRouter(t, api, "r2")

	_, err := api.AddRouterInterface(ctx, r1, RouterInterfaceArgs{SubnetID: subnetID})
	require.NoError(t, err)

	_, err = api.AddRouterInterface(ctx, r1, RouterInterfaceArgs{SubnetID: subnetID})
	assert.True(t, apierr.IsBadRequest(err), "same router: got %v", err)
	_, err = api.AddRouterInterface(ctx, r2, RouterInterfaceArgs{SubnetID: subnetID})
	assert.True(t, apierr.IsConflict(err), "other router: got %v", err)
	_, err = api.AddRouterInterface(ctx, r2, RouterInterfaceArgs{SubnetID: noGatewaySubnet})
	assert.True(t, apierr.IsBadRequest(err), "no gateway: got %v", err)
	_, err = api.AddRouterInterface(ctx, r2, RouterInterfaceArgs{})
	assert.True(t, apierr.IsBadRequest(err), "no selector: got %v", err)
	_, err = api.AddRouterInterface(ctx, r2, RouterInterfaceArgs{SubnetID: subnetID, PortID: "p"})
	assert.True(t, apierr.IsBadRequest(err), "both selectors: got %v", err)
	_, err = api.AddRouterInterface(ctx, "3c1c5bd2-0000-0000-0000-000000000000", RouterInterfaceArgs{SubnetID: noGatewaySubnet})
	assert.True(t, apierr.IsNotFound(err), "unknown router: got %v", err)
}

func TestAddRouterInterfaceByPort(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, netID, "10.0.0.0/24", "10.0.0.1")
	routerID := mustRouter(t, api, "r1")
	p := mustPort(t, api, PortArgs{
		NetworkID:    netID,
		MAC:          strPtr("00:1a:4a:16:01:99"),
		FixedIPs:     fixedIPs("10.0.0.1"),
		PortSecurity: boolPtr(true),
	})
	require.NotEmpty(t, p.SecurityGroups)

	ri, err := api.AddRouterInterface(ctx, routerID, RouterInterfaceArgs{PortID: p.LSP.UUID})
	require.NoError(t, err)
	assert.Equal(t, p.LSP.UUID, ri.PortID)
	assert.Equal(t, subnetID, ri.SubnetID)

	p, err = api.GetPort(ctx, p.LSP.UUID)
	require.NoError(t, err)
	assert.Equal(t, ovndb.PortTypeRouter, p.LSP.Type)
	assert.Empty(t, p.LSP.PortSecurity)
	assert.Nil(t, p.LSP.Dhcpv4Options)
	assert.Empty(t, p.SecurityGroups)
	assert.Equal(t, routerID, p.LSP.ExternalIDs[PortDeviceIDKey])
	require.NotNil(t, p.RouterPort)
	assert.Equal(t, "00:1a:4a:16:01:99", p.RouterPort.MAC)
	assert.Equal(t, []string{"10.0.0.1/24"}, p.RouterPort.Networks)

	// The port holds the subnet gateway, so the subnet is now routed.
	s, err := api.GetSubnet(ctx, subnetID)
	require.NoError(t, err)
	assert.Equal(t, routerID, s.DHCP.ExternalIDs[SubnetGatewayRouterKey])

	_, err = api.AddRouterInterface(ctx, routerID, RouterInterfaceArgs{PortID: p.LSP.UUID})
	assert.True(t, apierr.IsConflict(err), "got %v", err)
}

func TestAddRouterInterfaceByPortWithoutIP(t *testing.T) {
	api, _ := newTestAPI(t)
	netID := mustNetwork(t, api, "net1")
	routerID := mustRouter(t, api, "r1")
	p := mustPort(t, api, PortArgs{NetworkID: netID})

	_, err := api.AddRouterInterface(context.Background(), routerID, RouterInterfaceArgs{PortID: p.LSP.UUID})
	assert.True(t, apierr.IsBadRequest(err), "got %v", err)
}

func TestDeleteRouterInterface(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, netID, "10.0.0.0/24", "10.0.0.1")
	otherNet := mustNetwork(t, api, "net2")
	otherSubnet := mustSubnet(t, api, otherNet, "10.1.0.0/24", "10.1.0.1")
	routerID := mustRouter(t, api, "r1")

	ri, err := api.AddRouterInterface(ctx, routerID, RouterInterfaceArgs{SubnetID: subnetID})
	require.NoError(t, err)

	_, err = api.DeleteRouterInterface(ctx, routerID, RouterInterfaceArgs{SubnetID: otherSubnet})
	assert.True(t, apierr.IsNotFound(err), "got %v", err)
	_, err = api.DeleteRouterInterface(ctx, routerID, RouterInterfaceArgs{SubnetID: otherSubnet, PortID: ri.PortID})
	assert.True(t, apierr.IsConflict(err), "got %v", err)

	removed, err := api.DeleteRouterInterface(ctx, routerID, RouterInterfaceArgs{SubnetID: subnetID})
	require.NoError(t, err)
	assert.Equal(t, ri.PortID, removed.PortID)
	assert.Equal(t, subnetID, removed.SubnetID)

	_, err = api.GetPort(ctx, ri.PortID)
	assert.True(t, apierr.IsNotFound(err))
	s, err := api.GetSubnet(ctx, subnetID)
	require.NoError(t, err)
	assert.NotContains(t, s.DHCP.ExternalIDs, SubnetGatewayRouterKey)

	require.NoError(t, api.DeleteRouter(ctx, routerID))
	require.NoError(t, api.DeleteSubnet(ctx, subnetID))
}

func TestDeleteRouterInterfaceByPortOfOtherRouter(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	netID := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, netID, "10.0.0.0/24", "10.0.0.1")
	r1 := mustRouter(t, api, "r1")
	r2 := mustRouter(t, api, "r2")
	vm := mustPort(t, api, PortArgs{NetworkID: netID, FixedIPs: fixedIPs("10.0.0.5")})

	ri, err := api.AddRouterInterface(ctx, r1, RouterInterfaceArgs{SubnetID: subnetID})
	require.NoError(t, err)

	_, err = api.DeleteRouterInterface(ctx, r2, RouterInterfaceArgs{PortID: ri.PortID})
	assert.True(t, apierr.IsConflict(err), "got %v", err)
	_, err = api.DeleteRouterInterface(ctx, r1, RouterInterfaceArgs{PortID: vm.LSP.UUID})
	assert.True(t, apierr.IsConflict(err), "got %v", err)

	_, err = api.DeleteRouterInterface(ctx, r1, RouterInterfaceArgs{PortID: ri.PortID})
	require.NoError(t, err)
}
