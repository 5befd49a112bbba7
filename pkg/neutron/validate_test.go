package neutron

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

func testSubnet(cidr, gateway string) *ovndb.DHCPOptions {
	return &ovndb.DHCPOptions{
		UUID:        "subnet-1",
		Cidr:        cidr,
		Options:     map[string]string{ovndb.DHCPRouter: gateway},
		ExternalIDs: map[string]string{SubnetNetworkIDKey: "net-1"},
	}
}

func TestPortAddress(t *testing.T) {
	tests := []struct {
		name      string
		addresses []string
		dynamic   *string
		mac       string
		ips       []string
		ip        string
	}{
		{name: "static", addresses: []string{"00:00:00:00:00:01 10.0.0.5"}, mac: "00:00:00:00:00:01", ips: []string{"10.0.0.5"}, ip: "10.0.0.5"},
		{name: "mac only", addresses: []string{"00:00:00:00:00:01"}, mac: "00:00:00:00:00:01"},
		{name: "dynamic", addresses: []string{"00:00:00:00:00:01 dynamic"}, dynamic: strPtr("00:00:00:00:00:01 10.0.0.7"),
			mac: "00:00:00:00:00:01", ip: "10.0.0.7"},
		{name: "router", addresses: []string{"router"}},
		{name: "unknown", addresses: []string{"unknown"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lsp := &ovndb.LogicalSwitchPort{Addresses: tt.addresses, DynamicAddresses: tt.dynamic}
			mac, ips := portAddress(lsp)
			assert.Equal(t, tt.mac, mac)
			assert.Equal(t, tt.ips, ips)
			assert.Equal(t, tt.ip, portIP(lsp))
		})
	}
}

func TestIPAvailableInNetwork(t *testing.T) {
	ls := &ovndb.LogicalSwitch{
		UUID:        "net-1",
		OtherConfig: map[string]string{ovndb.LSOtherConfigExcludeIPs: "10.0.0.1 10.0.0.2"},
	}
	ports := []*ovndb.LogicalSwitchPort{
		{UUID: "p1", Addresses: []string{"00:00:00:00:00:01 10.0.0.5"}},
	}
	assert.NoError(t, ipAvailableInNetwork(ls, ports, "10.0.0.6", ""))
	assert.NoError(t, ipAvailableInNetwork(ls, ports, "10.0.0.5", "p1"))
	assert.True(t, apierr.IsConflict(ipAvailableInNetwork(ls, ports, "10.0.0.5", "")))
	assert.True(t, apierr.IsConflict(ipAvailableInNetwork(ls, ports, "10.0.0.2", "")))

	ls.OtherConfig[ovndb.LSOtherConfigExcludeIPs] = "10.0.0.1..10.0.0.9"
	err := ipAvailableInNetwork(ls, ports, "10.0.0.6", "")
	assert.Equal(t, apierr.NotImplemented, apierr.KindOf(err))
}

func TestFixedIPMatchesPortSubnet(t *testing.T) {
	dhcp := testSubnet("10.0.0.0/24", "10.0.0.1")
	tests := []struct {
		name    string
		fixed   FixedIP
		dhcp    *ovndb.DHCPOptions
		wantErr bool
	}{
		{name: "empty without subnet", dhcp: nil},
		{name: "ip without subnet", fixed: FixedIP{IPAddress: "10.0.0.5"}, wantErr: true},
		{name: "in subnet", fixed: FixedIP{IPAddress: "10.0.0.5"}, dhcp: dhcp},
		{name: "outside subnet", fixed: FixedIP{IPAddress: "10.0.1.5"}, dhcp: dhcp, wantErr: true},
		{name: "malformed", fixed: FixedIP{IPAddress: "10.0.0"}, dhcp: dhcp, wantErr: true},
		{name: "foreign subnet id", fixed: FixedIP{SubnetID: "other"}, dhcp: dhcp, wantErr: true},
		{name: "matching subnet id", fixed: FixedIP{SubnetID: "subnet-1", IPAddress: "10.0.0.9"}, dhcp: dhcp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fixedIPMatchesPortSubnet(tt.fixed, tt.dhcp, "net-1")
			if tt.wantErr {
				assert.True(t, apierr.IsBadRequest(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRoutingSubnet(t *testing.T) {
	connected := testSubnet("10.0.0.0/24", "10.0.0.1")
	connected.ExternalIDs[SubnetGatewayRouterKey] = "router-1"

	tests := []struct {
		name      string
		dhcp      *ovndb.DHCPOptions
		networkID string
		routerID  string
		kind      apierr.Kind
	}{
		{name: "ok", dhcp: testSubnet("10.0.0.0/24", "10.0.0.1"), routerID: "router-1", kind: -1},
		{name: "network matches", dhcp: testSubnet("10.0.0.0/24", "10.0.0.1"), networkID: "net-1", kind: -1},
		{name: "network mismatch", dhcp: testSubnet("10.0.0.0/24", "10.0.0.1"), networkID: "net-2", kind: apierr.BadRequest},
		{name: "no gateway", dhcp: testSubnet("10.0.0.0/24", ""), kind: apierr.BadRequest},
		{name: "same router", dhcp: connected, routerID: "router-1", kind: apierr.BadRequest},
		{name: "other router", dhcp: connected, routerID: "router-2", kind: apierr.Conflict},
		{name: "orphan", dhcp: &ovndb.DHCPOptions{UUID: "s", Cidr: "10.0.0.0/24"}, kind: apierr.BadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRoutingSubnet(tt.dhcp, tt.networkID, tt.routerID, true)
			if tt.kind < 0 {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, apierr.KindOf(err), "got %v", err)
		})
	}
}

func TestNoDefaultGatewayInRoutes(t *testing.T) {
	routes := []Route{{Destination: "10.1.0.0/16", Nexthop: "10.0.0.254"}, {Destination: "::/0", Nexthop: "fd00::1"}}
	assert.NoError(t, noDefaultGatewayInRoutes(false, routes))
	assert.True(t, apierr.IsBadRequest(noDefaultGatewayInRoutes(true, routes)))
	assert.NoError(t, noDefaultGatewayInRoutes(true, routes[:1]))
}

func TestSubnetNotConnectedToRouter(t *testing.T) {
	dhcp := testSubnet("10.0.0.0/24", "10.0.0.1")
	lrps := []*ovndb.LogicalRouterPort{{Networks: []string{"10.0.1.1/24"}}}
	assert.NoError(t, subnetNotConnectedToRouter("r", lrps, dhcp))
	lrps = append(lrps, &ovndb.LogicalRouterPort{Networks: []string{"10.0.0.1/24"}})
	assert.True(t, apierr.IsBadRequest(subnetNotConnectedToRouter("r", lrps, dhcp)))
}

func TestPortIsNotRouterOwned(t *testing.T) {
	for owner, conflict := range map[string]bool{
		DeviceOwnerRouterInterface: true,
		DeviceOwnerRouterGateway:   true,
		"compute:nova":             false,
		"":                         false,
	} {
		lsp := &ovndb.LogicalSwitchPort{UUID: "p", ExternalIDs: map[string]string{PortDeviceOwnerKey: owner}}
		assert.Equal(t, conflict, apierr.IsConflict(portIsNotRouterOwned(lsp)), owner)
	}
}

func TestRouterPortChecks(t *testing.T) {
	lr := &ovndb.LogicalRouter{UUID: "r1", Ports: []string{"lrp-gw", "lrp-1"}}
	assert.True(t, apierr.IsConflict(routerHasNoPorts(lr)))
	assert.True(t, apierr.IsConflict(routerHasNoPorts(lr, "lrp-gw")))
	assert.NoError(t, routerHasNoPorts(lr, "lrp-gw", "lrp-1"))
	assert.NoError(t, routerHasNoPorts(&ovndb.LogicalRouter{UUID: "r2"}))

	lsp := &ovndb.LogicalSwitchPort{UUID: "p1", Type: ovndb.PortTypeRouter}
	assert.NoError(t, portIsConnectedToRouter(lsp, lr, &ovndb.LogicalRouterPort{UUID: "lrp-1"}))
	assert.True(t, apierr.IsConflict(portIsConnectedToRouter(lsp, lr, &ovndb.LogicalRouterPort{UUID: "lrp-9"})))
	assert.True(t, apierr.IsConflict(portIsConnectedToRouter(lsp, lr, nil)))
}
