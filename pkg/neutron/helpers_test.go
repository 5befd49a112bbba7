package neutron

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb/nbtest"
)

var testNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestAPI(t *testing.T) (*NeutronAPI, *nbtest.NB) {
	t.Helper()
	nb := nbtest.New()
	api := New(nb, config.DefaultConfig(),
		WithRand(rand.New(rand.NewSource(42))),
		WithClock(func() time.Time { return testNow }),
	)
	return api, nb
}

func mustNetwork(t *testing.T, api *NeutronAPI, name string) string {
	t.Helper()
	n, err := api.AddNetwork(context.Background(), NetworkArgs{Name: strPtr(name)})
	require.NoError(t, err)
	return n.LS.UUID
}

func mustSubnet(t *testing.T, api *NeutronAPI, networkID, cidr, gateway string) string {
	t.Helper()
	args := SubnetArgs{Name: strPtr("s-" + cidr), CIDR: cidr, NetworkID: networkID, IPVersion: 4}
	if gateway != "" {
		args.GatewayIP = strPtr(gateway)
	}
	s, err := api.AddSubnet(context.Background(), args)
	require.NoError(t, err)
	return s.DHCP.UUID
}

func mustPort(t *testing.T, api *NeutronAPI, args PortArgs) *Port {
	t.Helper()
	p, err := api.AddPort(context.Background(), args)
	require.NoError(t, err)
	return p
}

func fixedIPs(ip string) *[]FixedIP {
	return &[]FixedIP{{IPAddress: ip}}
}

func mustSwitch(t *testing.T, api *NeutronAPI, id string) *ovndb.LogicalSwitch {
	t.Helper()
	ls, err := api.ops.GetLogicalSwitch(context.Background(), id)
	require.NoError(t, err)
	return ls
}
