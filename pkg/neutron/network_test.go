package neutron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

func TestAddNetwork(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	n, err := api.AddNetwork(ctx, NetworkArgs{Name: strPtr("net1"), MTU: intPtr(1400)})
	require.NoError(t, err)
	assert.Equal(t, "net1", n.LS.Name)
	assert.Equal(t, "net1", n.LS.ExternalIDs[NetworkNameKey])
	assert.Equal(t, "1400", n.LS.ExternalIDs[NetworkMTUKey])
	assert.Equal(t, "false", n.LS.ExternalIDs[NetworkPortSecurityKey])
	assert.Nil(t, n.Localnet)

	networks, err := api.ListNetworks(ctx)
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, n.LS.UUID, networks[0].LS.UUID)
}

func TestAddProviderNetwork(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	n, err := api.AddNetwork(ctx, NetworkArgs{
		Name:        strPtr("ext"),
		Localnet:    strPtr("physnet1"),
		NetworkType: strPtr(NetworkTypeVLAN),
		VLAN:        intPtr(10),
	})
	require.NoError(t, err)
	require.NotNil(t, n.Localnet)
	assert.Equal(t, ovndb.PortTypeLocalnet, n.Localnet.Type)
	assert.Equal(t, []string{ovndb.AddressUnknown}, n.Localnet.Addresses)

	physnet, networkType, vlan := ProviderNetwork(n.Localnet)
	assert.Equal(t, "physnet1", physnet)
	assert.Equal(t, NetworkTypeVLAN, networkType)
	require.NotNil(t, vlan)
	assert.Equal(t, 10, *vlan)

	// Localnet uplinks are not API ports.
	ports, err := api.ListPorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestAddNetworkInvalidProvider(t *testing.T) {
	tests := []struct {
		name string
		args NetworkArgs
	}{
		{"vlan without segmentation id", NetworkArgs{Localnet: strPtr("phys"), NetworkType: strPtr(NetworkTypeVLAN)}},
		{"flat with segmentation id", NetworkArgs{Localnet: strPtr("phys"), NetworkType: strPtr(NetworkTypeFlat), VLAN: intPtr(3)}},
		{"unsupported type", NetworkArgs{Localnet: strPtr("phys"), NetworkType: strPtr("gre")}},
		{"segmentation id without type", NetworkArgs{VLAN: intPtr(3)}},
		{"physical network without type", NetworkArgs{Localnet: strPtr("phys")}},
		{"type without physical network", NetworkArgs{NetworkType: strPtr(NetworkTypeFlat)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, nb := newTestAPI(t)
			_, err := api.AddNetwork(context.Background(), tt.args)
			assert.True(t, apierr.IsBadRequest(err), "got %v", err)
			assert.Zero(t, nb.Transactions)
		})
	}
}

func TestUpdateNetwork(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	id := mustNetwork(t, api, "net1")

	n, err := api.UpdateNetwork(ctx, id, NetworkArgs{
		Name:         strPtr("renamed"),
		PortSecurity: boolPtr(true),
		Localnet:     strPtr("phys"),
		NetworkType:  strPtr(NetworkTypeFlat),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", n.LS.Name)
	assert.Equal(t, "renamed", n.LS.ExternalIDs[NetworkNameKey])
	assert.Equal(t, "true", n.LS.ExternalIDs[NetworkPortSecurityKey])
	require.NotNil(t, n.Localnet)

	n, err = api.UpdateNetwork(ctx, id, NetworkArgs{NetworkType: strPtr(NetworkTypeVLAN), VLAN: intPtr(20)})
	require.NoError(t, err)
	physnet, networkType, vlan := ProviderNetwork(n.Localnet)
	assert.Equal(t, "phys", physnet)
	assert.Equal(t, NetworkTypeVLAN, networkType)
	assert.Equal(t, 20, *vlan)

	n, err = api.UpdateNetwork(ctx, id, NetworkArgs{Localnet: strPtr("")})
	require.NoError(t, err)
	assert.Nil(t, n.Localnet)
	assert.Empty(t, n.LS.Ports)
}

func TestUpdateNetworkMTUReachesSubnet(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	id := mustNetwork(t, api, "net1")
	subnetID := mustSubnet(t, api, id, "10.0.0.0/24", "10.0.0.1")

	_, err := api.UpdateNetwork(ctx, id, NetworkArgs{MTU: intPtr(1300)})
	require.NoError(t, err)

	s, err := api.GetSubnet(ctx, subnetID)
	require.NoError(t, err)
	assert.Equal(t, "1300", s.DHCP.Options[ovndb.DHCPMTU])
}

func TestUpdateNetworkMTUSkipsIPv6Subnet(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	id := mustNetwork(t, api, "net6")
	s, err := api.AddSubnet(ctx, SubnetArgs{CIDR: "fd00::/64", NetworkID: id, IPVersion: 6})
	require.NoError(t, err)

	n, err := api.UpdateNetwork(ctx, id, NetworkArgs{MTU: intPtr(1300)})
	require.NoError(t, err)
	assert.Equal(t, "1300", n.LS.ExternalIDs[NetworkMTUKey])

	s, err = api.GetSubnet(ctx, s.DHCP.UUID)
	require.NoError(t, err)
	assert.NotContains(t, s.DHCP.Options, ovndb.DHCPMTU)
}

func TestDeleteNetwork(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	id := mustNetwork(t, api, "net1")
	mustSubnet(t, api, id, "10.0.0.0/24", "10.0.0.1")
	p := mustPort(t, api, PortArgs{NetworkID: id, Name: strPtr("nic1")})

	err := api.DeleteNetwork(ctx, id)
	assert.True(t, apierr.IsConflict(err), "got %v", err)
	assert.Contains(t, apierr.Message(err), "Ports exist for the network")

	require.NoError(t, api.DeletePort(ctx, p.LSP.UUID))
	require.NoError(t, api.DeleteNetwork(ctx, id))

	_, err = api.GetNetwork(ctx, id)
	assert.True(t, apierr.IsNotFound(err))
	subnets, err := api.ListSubnets(ctx)
	require.NoError(t, err)
	assert.Empty(t, subnets)
}

func TestDeleteProviderNetworkWithoutPorts(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	n, err := api.AddNetwork(ctx, NetworkArgs{Localnet: strPtr("phys"), NetworkType: strPtr(NetworkTypeFlat)})
	require.NoError(t, err)

	require.NoError(t, api.DeleteNetwork(ctx, n.LS.UUID))
	lsps, err := api.ops.ListLogicalSwitchPorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, lsps)
}

func TestGetNetworkNotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.GetNetwork(context.Background(), "6f2a8a52-0000-0000-0000-000000000000")
	assert.True(t, apierr.IsNotFound(err))
}
