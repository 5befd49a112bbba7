// Package ovndb provides the OVN Northbound models and the typed operations
// the provider performs on them.
//
// OVN Northbound tables used by the provider:
// - Logical_Switch: a network
// - Logical_Switch_Port: a port, a localnet uplink or the switch side of a router attachment
// - Logical_Router / Logical_Router_Port: routers and their interfaces
// - Logical_Router_Static_Route: extra routes and the external gateway default route
// - DHCP_Options: a subnet
// - Port_Group / ACL: security groups and their rules
package ovndb

import (
	"github.com/ovn-org/libovsdb/model"
)

// LogicalSwitch represents an OVN Logical Switch.
//
// Key fields:
// - Ports: Logical_Switch_Port UUIDs
// - OtherConfig: subnet, ipv6_prefix, exclude_ips
// - ExternalIDs: network name, mtu and port security default
type LogicalSwitch struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Ports       []string          `ovsdb:"ports"`
	ACLs        []string          `ovsdb:"acls"`
	OtherConfig map[string]string `ovsdb:"other_config"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// LogicalSwitchPort represents an OVN Logical Switch Port.
//
// Key fields:
// - Name: the row's own UUID for ports created through the API
// - Addresses: "MAC", "MAC IP", "MAC dynamic", "router" or "unknown"
// - Type: "" for a VM port, "router" for a router attachment, "localnet" for an uplink
// - PortSecurity: allowed addresses, empty disables filtering
type LogicalSwitchPort struct {
	UUID             string            `ovsdb:"_uuid"`
	Name             string            `ovsdb:"name"`
	Addresses        []string          `ovsdb:"addresses"`
	Type             string            `ovsdb:"type"`
	Options          map[string]string `ovsdb:"options"`
	PortSecurity     []string          `ovsdb:"port_security"`
	ExternalIDs      map[string]string `ovsdb:"external_ids"`
	Enabled          *bool             `ovsdb:"enabled"`
	Up               *bool             `ovsdb:"up"`
	Dhcpv4Options    *string           `ovsdb:"dhcpv4_options"`
	Dhcpv6Options    *string           `ovsdb:"dhcpv6_options"`
	DynamicAddresses *string           `ovsdb:"dynamic_addresses"`
	Tag              *int              `ovsdb:"tag"`
	TagRequest       *int              `ovsdb:"tag_request"`
}

// LogicalRouter represents an OVN Logical Router.
type LogicalRouter struct {
	UUID         string            `ovsdb:"_uuid"`
	Name         string            `ovsdb:"name"`
	Ports        []string          `ovsdb:"ports"`
	StaticRoutes []string          `ovsdb:"static_routes"`
	Options      map[string]string `ovsdb:"options"`
	ExternalIDs  map[string]string `ovsdb:"external_ids"`
	Enabled      *bool             `ovsdb:"enabled"`
}

// LogicalRouterPort represents an OVN Logical Router Port.
// Networks holds "IP/prefix" entries.
type LogicalRouterPort struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Networks    []string          `ovsdb:"networks"`
	MAC         string            `ovsdb:"mac"`
	Peer        *string           `ovsdb:"peer"`
	Options     map[string]string `ovsdb:"options"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
	Enabled     *bool             `ovsdb:"enabled"`
}

// LogicalRouterStaticRoute represents an OVN static route.
type LogicalRouterStaticRoute struct {
	UUID        string            `ovsdb:"_uuid"`
	IPPrefix    string            `ovsdb:"ip_prefix"`
	Nexthop     string            `ovsdb:"nexthop"`
	OutputPort  *string           `ovsdb:"output_port"`
	Policy      *string           `ovsdb:"policy"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// DHCPOptions represents an OVN DHCP_Options row.
type DHCPOptions struct {
	UUID        string            `ovsdb:"_uuid"`
	Cidr        string            `ovsdb:"cidr"`
	Options     map[string]string `ovsdb:"options"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// ACL represents an OVN Access Control List.
//
// Key fields:
// - Direction: "from-lport" (egress) or "to-lport" (ingress)
// - Priority: Higher priority rules are evaluated first (0-32767)
// - Match: OVN match expression
// - ExternalIDs: the REST fields of the security group rule
type ACL struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        *string           `ovsdb:"name"`
	Direction   string            `ovsdb:"direction"`
	Priority    int               `ovsdb:"priority"`
	Match       string            `ovsdb:"match"`
	Action      string            `ovsdb:"action"`
	Log         bool              `ovsdb:"log"`
	Severity    *string           `ovsdb:"severity"`
	Meter       *string           `ovsdb:"meter"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// ACL direction constants
const (
	ACLDirectionFromLport = "from-lport" // Egress traffic (from port)
	ACLDirectionToLport   = "to-lport"   // Ingress traffic (to port)
)

// ACL action constants
const (
	ACLActionAllowRelated = "allow-related"
	ACLActionDrop         = "drop"
)

// PortGroup represents an OVN Port Group.
type PortGroup struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Ports       []string          `ovsdb:"ports"`
	ACLs        []string          `ovsdb:"acls"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// Table name constants
const (
	LogicalSwitchTable            = "Logical_Switch"
	LogicalSwitchPortTable        = "Logical_Switch_Port"
	LogicalRouterTable            = "Logical_Router"
	LogicalRouterPortTable        = "Logical_Router_Port"
	LogicalRouterStaticRouteTable = "Logical_Router_Static_Route"
	DHCPOptionsTable              = "DHCP_Options"
	ACLTable                      = "ACL"
	PortGroupTable                = "Port_Group"
)

// NBDBModel returns the database model for the OVN Northbound database.
func NBDBModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel("OVN_Northbound", map[string]model.Model{
		LogicalSwitchTable:            &LogicalSwitch{},
		LogicalSwitchPortTable:        &LogicalSwitchPort{},
		LogicalRouterTable:            &LogicalRouter{},
		LogicalRouterPortTable:        &LogicalRouterPort{},
		LogicalRouterStaticRouteTable: &LogicalRouterStaticRoute{},
		DHCPOptionsTable:              &DHCPOptions{},
		ACLTable:                      &ACL{},
		PortGroupTable:                &PortGroup{},
	})
}

// TableOf returns the table name of a model pointer, or "" if the model is
// not part of the Northbound model.
func TableOf(m model.Model) string {
	switch m.(type) {
	case *LogicalSwitch:
		return LogicalSwitchTable
	case *LogicalSwitchPort:
		return LogicalSwitchPortTable
	case *LogicalRouter:
		return LogicalRouterTable
	case *LogicalRouterPort:
		return LogicalRouterPortTable
	case *LogicalRouterStaticRoute:
		return LogicalRouterStaticRouteTable
	case *DHCPOptions:
		return DHCPOptionsTable
	case *ACL:
		return ACLTable
	case *PortGroup:
		return PortGroupTable
	}
	return ""
}
