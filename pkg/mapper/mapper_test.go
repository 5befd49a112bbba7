package mapper

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb/nbtest"
)

type object = map[string]interface{}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Validation.MaxAllowedMTU = 9000
	api := neutron.New(nbtest.New(), cfg,
		neutron.WithRand(rand.New(rand.NewSource(7))),
		neutron.WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }),
	)
	return New(api, cfg)
}

// render converts a response into its JSON object form.
func render(t *testing.T, resp interface{}, err error) object {
	t.Helper()
	require.NoError(t, err)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out object
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func inner(t *testing.T, resp interface{}, err error, key string) object {
	t.Helper()
	out := render(t, resp, err)
	require.Contains(t, out, key)
	return out[key].(object)
}

func items(t *testing.T, resp interface{}, err error, key string) []interface{} {
	t.Helper()
	out := render(t, resp, err)
	require.Contains(t, out, key)
	return out[key].([]interface{})
}

func requireKind(t *testing.T, err error, kind apierr.Kind, prefix string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apierr.KindOf(err), err.Error())
	assert.Regexp(t, "^"+prefix, err.Error())
}

func TestNetworkLifecycle(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()

	resp, err := m.AddNetwork(ctx, []byte(`{"network": {"name": "ls0", "mtu": 1400, "tenant_id": "x"}}`))
	n := inner(t, resp, err, NetworkKey)
	assert.Equal(t, "ls0", n["name"])
	assert.Equal(t, float64(1400), n["mtu"])
	assert.Equal(t, StatusActive, n["status"])
	assert.Equal(t, "00000000000000000000000000000001", n["tenant_id"])
	assert.Equal(t, false, n["port_security_enabled"])
	assert.NotContains(t, n, "provider:network_type")
	id := n["id"].(string)

	resp, err = m.ListNetworks(ctx)
	networks := items(t, resp, err, NetworksKey)
	require.Len(t, networks, 1)
	assert.Equal(t, "ls0", networks[0].(object)["name"])

	resp, err = m.UpdateNetwork(ctx, id, []byte(`{"network": {"name": "ls1"}}`))
	assert.Equal(t, "ls1", inner(t, resp, err, NetworkKey)["name"])

	require.NoError(t, m.DeleteNetwork(ctx, id))
	resp, err = m.ListNetworks(ctx)
	assert.Empty(t, items(t, resp, err, NetworksKey))

	_, err = m.GetNetwork(ctx, id)
	assert.True(t, apierr.IsNotFound(err))
}

func TestProviderNetworkUpdate(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()

	resp, err := m.AddNetwork(ctx, []byte(`{"network": {"name": "pls0",
		"provider:physical_network": "extnet", "provider:network_type": "vlan", "provider:segmentation_id": 666}}`))
	n := inner(t, resp, err, NetworkKey)
	id := n["id"].(string)

	resp, err = m.GetNetwork(ctx, id)
	n = inner(t, resp, err, NetworkKey)
	assert.Equal(t, "extnet", n["provider:physical_network"])
	assert.Equal(t, "vlan", n["provider:network_type"])
	assert.Equal(t, float64(666), n["provider:segmentation_id"])

	_, err = m.UpdateNetwork(ctx, id, []byte(`{"network": {"provider:segmentation_id": 25}}`))
	require.NoError(t, err)
	resp, err = m.GetNetwork(ctx, id)
	assert.Equal(t, float64(25), inner(t, resp, err, NetworkKey)["provider:segmentation_id"])
}

func TestAddNetworkValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   apierr.Kind
		prefix string
	}{
		{name: "missing name", body: `{"network": {}}`, kind: apierr.BadRequest, prefix: "Missing mandatory data: name"},
		{name: "unknown key", body: `{"network": {"name": "a", "shared": true}}`, kind: apierr.BadRequest, prefix: "Invalid data found: shared"},
		{name: "mtu too large", body: `{"network": {"name": "a", "mtu": 9001}}`, kind: apierr.BadRequest, prefix: "Invalid input for mtu"},
		{name: "mtu type", body: `{"network": {"name": "a", "mtu": "1500"}}`, kind: apierr.BadRequest, prefix: "Invalid input for mtu"},
		{name: "vlan without physnet", body: `{"network": {"name": "a", "provider:network_type": "vlan", "provider:segmentation_id": 10}}`, kind: apierr.BadRequest},
		{name: "bad vlan tag", body: `{"network": {"name": "a", "provider:physical_network": "p", "provider:network_type": "vlan", "provider:segmentation_id": 5000}}`,
			kind: apierr.BadRequest, prefix: "Invalid input for provider:segmentation_id"},
		{name: "unknown type", body: `{"network": {"name": "a", "provider:physical_network": "p", "provider:network_type": "vxlan"}}`, kind: apierr.BadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t)
			_, err := m.AddNetwork(context.Background(), []byte(tt.body))
			requireKind(t, err, tt.kind, tt.prefix)
		})
	}
}

func addNetwork(t *testing.T, m *Mapper, name string) string {
	t.Helper()
	resp, err := m.AddNetwork(context.Background(), []byte(`{"network": {"name": "`+name+`"}}`))
	return inner(t, resp, err, NetworkKey)["id"].(string)
}

func addSubnet(t *testing.T, m *Mapper, body string) object {
	t.Helper()
	resp, err := m.AddSubnet(context.Background(), []byte(body))
	return inner(t, resp, err, SubnetKey)
}

func TestIPv6SubnetAddressModeIsFixed(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	networkID := addNetwork(t, m, "v6")

	s := addSubnet(t, m, `{"subnet": {"network_id": "`+networkID+`", "cidr": "1234::/64", "ip_version": 6,
		"gateway_ip": "1234::1", "ipv6_address_mode": "dhcpv6-stateless"}}`)
	assert.Equal(t, "dhcpv6-stateless", s["ipv6_address_mode"])
	assert.Equal(t, "1234::1", s["gateway_ip"])
	assert.Equal(t, float64(6), s["ip_version"])
	assert.Equal(t, true, s["enable_dhcp"])

	_, err := m.UpdateSubnet(ctx, s["id"].(string), []byte(`{"subnet": {"ipv6_address_mode": "dhcpv6-stateful"}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid data found: ipv6_address_mode")
}

func TestIPv4Subnet(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	networkID := addNetwork(t, m, "v4")

	s := addSubnet(t, m, `{"subnet": {"name": "s0", "network_id": "`+networkID+`", "cidr": "192.168.0.0/24",
		"ip_version": 4, "gateway_ip": "192.168.0.1", "dns_nameservers": ["8.8.8.8"], "enable_dhcp": true}}`)
	assert.Equal(t, "s0", s["name"])
	assert.Equal(t, networkID, s["network_id"])
	assert.Equal(t, []interface{}{"8.8.8.8"}, s["dns_nameservers"])
	assert.Nil(t, s["ipv6_address_mode"])
	assert.Equal(t, []interface{}{object{"start": "192.168.0.1", "end": "192.168.0.254"}}, s["allocation_pools"])

	resp, err := m.UpdateSubnet(ctx, s["id"].(string), []byte(`{"subnet": {"name": "s1", "dns_nameservers": []}}`))
	s = inner(t, resp, err, SubnetKey)
	assert.Equal(t, "s1", s["name"])
	assert.Equal(t, []interface{}{}, s["dns_nameservers"])

	_, err = m.UpdateSubnet(ctx, s["id"].(string), []byte(`{"subnet": {"cidr": "10.0.0.0/24"}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid data found: cidr")
}

func TestAddSubnetValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		prefix string
	}{
		{name: "dhcp disabled", fields: `"cidr": "10.0.0.0/24", "ip_version": 4, "enable_dhcp": false`, prefix: "Invalid input for enable_dhcp"},
		{name: "slaac", fields: `"cidr": "1::/64", "ip_version": 6, "ipv6_address_mode": "slaac"`, prefix: "Invalid input for ipv6_address_mode"},
		{name: "bad version", fields: `"cidr": "10.0.0.0/24", "ip_version": 5`, prefix: "Invalid input for ip_version"},
		{name: "version mismatch", fields: `"cidr": "10.0.0.0/24", "ip_version": 6`, prefix: `The provided ip_version \[6\] does not match`},
		{name: "bad cidr", fields: `"cidr": "10.0.0.0/33", "ip_version": 4`, prefix: "Invalid input for cidr"},
		{name: "bad dns", fields: `"cidr": "10.0.0.0/24", "ip_version": 4, "dns_nameservers": ["dns"]`, prefix: "Invalid input for dns_nameservers"},
		{name: "stateless needs /64", fields: `"cidr": "1::/80", "ip_version": 6, "ipv6_address_mode": "dhcpv6_stateless"`, prefix: "The prefix length"},
		{name: "missing version", fields: `"cidr": "10.0.0.0/24"`, prefix: "Missing mandatory data: ip_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t)
			networkID := addNetwork(t, m, "n")
			_, err := m.AddSubnet(context.Background(), []byte(`{"subnet": {"network_id": "`+networkID+`", `+tt.fields+`}}`))
			requireKind(t, err, apierr.BadRequest, tt.prefix)
		})
	}
}

func TestPortValidation(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	networkID := addNetwork(t, m, "n")
	addSubnet(t, m, `{"subnet": {"network_id": "`+networkID+`", "cidr": "192.168.0.0/24", "ip_version": 4}}`)

	_, err := m.AddPort(ctx, []byte(`{"port": {"network_id": "`+networkID+`", "name": "broken-port", "mac_address": "fa:16:3e:c9:cb:xx"}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid input for mac_address")

	_, err = m.AddPort(ctx, []byte(`{"port": {"network_id": "`+networkID+`",
		"fixed_ips": [{"ip_address": "192.168.0.10"}, {"ip_address": "192.168.0.11"}]}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid input for fixed_ips")

	_, err = m.AddPort(ctx, []byte(`{"port": {"network_id": "`+networkID+`", "fixed_ips": [{"ip_address": "not-an-ip"}]}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid input for fixed_ips")

	_, err = m.AddPort(ctx, []byte(`{"port": {"network_id": "`+networkID+`", "fixed_ips": [{"address": "192.168.0.10"}]}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid data found: address")

	resp, err := m.ListPorts(ctx)
	assert.Empty(t, items(t, resp, err, PortsKey))
}

func TestPortLifecycle(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	networkID := addNetwork(t, m, "n")
	s := addSubnet(t, m, `{"subnet": {"network_id": "`+networkID+`", "cidr": "192.168.0.0/24", "ip_version": 4}}`)

	resp, err := m.AddPort(ctx, []byte(`{"port": {"network_id": "`+networkID+`", "name": "private-port",
		"mac_address": "FA:16:3E:C9:CB:10", "device_id": "vm1", "admin_state_up": false,
		"fixed_ips": [{"ip_address": "192.168.0.10", "subnet_id": "`+s["id"].(string)+`"}]}}`))
	p := inner(t, resp, err, PortKey)
	assert.Equal(t, "private-port", p["name"])
	assert.Equal(t, "fa:16:3e:c9:cb:10", p["mac_address"])
	assert.Equal(t, "vm1", p["device_id"])
	assert.Equal(t, false, p["admin_state_up"])
	assert.Equal(t, StatusDown, p["status"])
	assert.Equal(t, networkID, p["network_id"])
	assert.Equal(t, []interface{}{object{"ip_address": "192.168.0.10", "subnet_id": s["id"]}}, p["fixed_ips"])
	assert.Equal(t, []interface{}{}, p["security_groups"])
	id := p["id"].(string)

	resp, err = m.UpdatePort(ctx, id, []byte(`{"port": {"admin_state_up": true, "name": "renamed"}}`))
	p = inner(t, resp, err, PortKey)
	assert.Equal(t, "renamed", p["name"])
	assert.Equal(t, StatusActive, p["status"])

	require.NoError(t, m.DeletePort(ctx, id))
	_, err = m.GetPort(ctx, id)
	assert.True(t, apierr.IsNotFound(err))
}

func TestRouterValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   apierr.Kind
		prefix string
	}{
		{name: "snat", body: `{"router": {"external_gateway_info": {"network_id": "n", "enable_snat": true,
			"external_fixed_ips": [{"subnet_id": "s", "ip_address": "10.0.0.2"}]}}}`, kind: apierr.NotImplemented},
		{name: "two external ips", body: `{"router": {"external_gateway_info": {"network_id": "n", "external_fixed_ips": [
			{"subnet_id": "s", "ip_address": "10.0.0.2"}, {"subnet_id": "s", "ip_address": "10.0.0.3"}]}}}`,
			kind: apierr.BadRequest, prefix: "Invalid input for external_fixed_ips"},
		{name: "missing network", body: `{"router": {"external_gateway_info": {"external_fixed_ips": []}}}`,
			kind: apierr.BadRequest, prefix: "Missing mandatory data: network_id"},
		{name: "missing ip", body: `{"router": {"external_gateway_info": {"network_id": "n", "external_fixed_ips": [{"subnet_id": "s"}]}}}`,
			kind: apierr.BadRequest, prefix: "Missing mandatory data: ip_address"},
		{name: "route without nexthop", body: `{"router": {"routes": [{"destination": "10.1.0.0/24"}]}}`,
			kind: apierr.BadRequest, prefix: "Missing mandatory data: nexthop"},
		{name: "bad route", body: `{"router": {"routes": [{"destination": "10.1.0.0", "nexthop": "10.0.0.1"}]}}`,
			kind: apierr.BadRequest, prefix: "Invalid input for routes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t)
			_, err := m.AddRouter(context.Background(), []byte(tt.body))
			requireKind(t, err, tt.kind, tt.prefix)
		})
	}
}

func TestRouterWithInterface(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	networkID := addNetwork(t, m, "n")
	s := addSubnet(t, m, `{"subnet": {"network_id": "`+networkID+`", "cidr": "192.168.0.0/24", "ip_version": 4, "gateway_ip": "192.168.0.1"}}`)
	subnetID := s["id"].(string)

	resp, err := m.AddRouter(ctx, []byte(`{"router": {"name": "r0", "routes": [{"destination": "10.1.0.0/24", "nexthop": "192.168.0.5"}]}}`))
	r := inner(t, resp, err, RouterKey)
	assert.Equal(t, "r0", r["name"])
	assert.Equal(t, true, r["admin_state_up"])
	assert.Nil(t, r["external_gateway_info"])
	assert.Equal(t, []interface{}{object{"destination": "10.1.0.0/24", "nexthop": "192.168.0.5"}}, r["routes"])
	routerID := r["id"].(string)

	_, err = m.AddRouterInterface(ctx, routerID, []byte(`{"subnet_id": "`+subnetID+`", "port_id": "p"}`))
	requireKind(t, err, apierr.BadRequest, "Exactly one of subnet_id and port_id")

	resp, err = m.AddRouterInterface(ctx, routerID, []byte(`{"subnet_id": "`+subnetID+`"}`))
	ri := render(t, resp, err)
	assert.Equal(t, routerID, ri["id"])
	assert.Equal(t, subnetID, ri["subnet_id"])
	assert.Equal(t, networkID, ri["network_id"])
	assert.Equal(t, []interface{}{subnetID}, ri["subnet_ids"])
	assert.NotEmpty(t, ri["port_id"])

	resp, err = m.GetPort(ctx, ri["port_id"].(string))
	p := inner(t, resp, err, PortKey)
	assert.Equal(t, neutron.DeviceOwnerRouterInterface, p["device_owner"])

	_, err = m.DeleteRouterInterface(ctx, routerID, []byte(`{}`))
	requireKind(t, err, apierr.BadRequest, "Missing mandatory data")

	resp, err = m.DeleteRouterInterface(ctx, routerID, []byte(`{"subnet_id": "`+subnetID+`"}`))
	assert.Equal(t, ri["port_id"], render(t, resp, err)["port_id"])

	resp, err = m.UpdateRouter(ctx, routerID, []byte(`{"router": {"routes": null, "admin_state_up": false}}`))
	r = inner(t, resp, err, RouterKey)
	assert.Equal(t, []interface{}{}, r["routes"])
	assert.Equal(t, StatusDown, r["status"])

	require.NoError(t, m.DeleteRouter(ctx, routerID))
}

func addSecurityGroup(t *testing.T, m *Mapper, name string) string {
	t.Helper()
	resp, err := m.AddSecurityGroup(context.Background(), []byte(`{"security_group": {"name": "`+name+`"}}`))
	return inner(t, resp, err, SecurityGroupKey)["id"].(string)
}

func ruleByID(t *testing.T, group object, id string) object {
	t.Helper()
	for _, r := range group["security_group_rules"].([]interface{}) {
		if rule := r.(object); rule["id"] == id {
			return rule
		}
	}
	require.Failf(t, "rule not found", "rule %s is not in group %s", id, group["id"])
	return nil
}

func TestSecurityGroupRule(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	groupID := addSecurityGroup(t, m, "icmp_group")

	resp, err := m.AddSecurityGroupRule(ctx, []byte(`{"security_group_rule": {"security_group_id": "`+groupID+`",
		"direction": "ingress", "ethertype": "IPv4", "protocol": "icmp"}}`))
	rule := inner(t, resp, err, SecurityGroupRuleKey)
	ruleID := rule["id"].(string)

	resp, err = m.GetSecurityGroup(ctx, groupID)
	group := inner(t, resp, err, SecurityGroupKey)
	assert.Equal(t, "icmp_group", group["name"])
	got := ruleByID(t, group, ruleID)
	assert.Equal(t, "ingress", got["direction"])
	assert.Equal(t, "IPv4", got["ethertype"])
	assert.Equal(t, "icmp", got["protocol"])
	assert.Equal(t, groupID, got["security_group_id"])
	assert.Contains(t, got, "remote_group_id")
	assert.Nil(t, got["remote_group_id"])
	assert.Nil(t, got["port_range_min"])

	resp, err = m.ListSecurityGroupRules(ctx)
	assert.NotEmpty(t, items(t, resp, err, SecurityGroupRulesKey))

	require.NoError(t, m.DeleteSecurityGroupRule(ctx, ruleID))
	_, err = m.GetSecurityGroupRule(ctx, ruleID)
	assert.True(t, apierr.IsNotFound(err))
}

func TestSecurityGroupRuleRemoteGroup(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	icmpID := addSecurityGroup(t, m, "icmp_group")
	limitedID := addSecurityGroup(t, m, "limited_access")

	resp, err := m.AddSecurityGroupRule(ctx, []byte(`{"security_group_rule": {"security_group_id": "`+limitedID+`",
		"direction": "ingress", "protocol": 6, "port_range_min": 22, "port_range_max": 22, "remote_group_id": "`+icmpID+`"}}`))
	ruleID := inner(t, resp, err, SecurityGroupRuleKey)["id"].(string)

	resp, err = m.GetSecurityGroup(ctx, limitedID)
	got := ruleByID(t, inner(t, resp, err, SecurityGroupKey), ruleID)
	assert.Equal(t, icmpID, got["remote_group_id"])
	assert.Equal(t, limitedID, got["security_group_id"])
	assert.Equal(t, "IPv4", got["ethertype"])
	assert.Equal(t, "6", got["protocol"])
	assert.Equal(t, float64(22), got["port_range_min"])
}

func TestSecurityGroupRuleValidation(t *testing.T) {
	m := newTestMapper(t)
	groupID := addSecurityGroup(t, m, "sg")

	tests := []struct {
		name   string
		fields string
		kind   apierr.Kind
		prefix string
	}{
		{name: "direction", fields: `"direction": "sideways"`, kind: apierr.BadRequest, prefix: "Invalid input for direction"},
		{name: "ethertype", fields: `"direction": "egress", "ethertype": "IPX"`, kind: apierr.BadRequest, prefix: "Invalid input for ethertype"},
		{name: "prefix and group", fields: `"direction": "egress", "remote_ip_prefix": "10.0.0.0/8", "remote_group_id": "` + groupID + `"`,
			kind: apierr.BadRequest, prefix: "Invalid input for remote_ip_prefix"},
		{name: "prefix family", fields: `"direction": "egress", "ethertype": "IPv4", "remote_ip_prefix": "::/0"`,
			kind: apierr.BadRequest, prefix: "Invalid input for remote_ip_prefix"},
		{name: "port range", fields: `"direction": "egress", "protocol": "tcp", "port_range_min": 70000`,
			kind: apierr.BadRequest, prefix: "Invalid input for port_range_min"},
		{name: "protocol type", fields: `"direction": "egress", "protocol": true`, kind: apierr.BadRequest, prefix: "Invalid input for protocol"},
		{name: "unknown remote group", fields: `"direction": "egress", "remote_group_id": "missing"`,
			kind: apierr.Conflict, prefix: "Port group missing does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"security_group_rule": {"security_group_id": "` + groupID + `", ` + tt.fields + `}}`
			_, err := m.AddSecurityGroupRule(context.Background(), []byte(body))
			requireKind(t, err, tt.kind, tt.prefix)
		})
	}
}

func TestUpdateSecurityGroup(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	groupID := addSecurityGroup(t, m, "sg")

	resp, err := m.UpdateSecurityGroup(ctx, groupID, []byte(`{"security_group": {"description": "web tier"}}`))
	sg := inner(t, resp, err, SecurityGroupKey)
	assert.Equal(t, "web tier", sg["description"])
	assert.Equal(t, "2024-03-01T12:30:00Z", sg["created_at"])

	_, err = m.UpdateSecurityGroup(ctx, groupID, []byte(`{"security_group": {"tenant_id": "t"}}`))
	requireKind(t, err, apierr.BadRequest, "Invalid data found: tenant_id")

	require.NoError(t, m.DeleteSecurityGroup(ctx, groupID))
	resp, err = m.ListSecurityGroups(ctx)
	assert.Empty(t, items(t, resp, err, SecurityGroupsKey))
}

func TestReadOnlyResources(t *testing.T) {
	m := newTestMapper(t)
	assert.Empty(t, items(t, m.ListFloatingIPs(), nil, FloatingIPsKey))

	extensions := items(t, m.ListExtensions(), nil, ExtensionsKey)
	require.Len(t, extensions, 1)
	assert.Equal(t, "extraroute", extensions[0].(object)["alias"])
}
