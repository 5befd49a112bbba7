// Package neutron implements the translation engine between the OpenStack
// Networking resources and the OVN Northbound rows that back them.
//
// Resource to row mapping:
//
//	Network             -> Logical_Switch (+ optional localnet Logical_Switch_Port)
//	Subnet              -> DHCP_Options
//	Port                -> Logical_Switch_Port
//	Router              -> Logical_Router (+ Logical_Router_Static_Route)
//	RouterInterface     -> Logical_Router_Port paired with a router Logical_Switch_Port
//	SecurityGroup       -> Port_Group
//	SecurityGroupRule   -> ACL
//
// Every composite operation groups its row changes into one Northbound
// transaction. Rows that must be named after their own UUID (switch ports
// and port groups) are created in a first transaction and renamed in a
// second one; a failed rename deletes the row again.
package neutron

import (
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// Logical_Switch external_ids keys
const (
	NetworkNameKey         = "ovirt_network_name"
	NetworkMTUKey          = "mtu"
	NetworkPortSecurityKey = "ovirt_port_security"
)

// Logical_Switch_Port external_ids keys
const (
	PortNameKey        = "ovirt_nic_name"
	PortDeviceIDKey    = "ovirt_device_id"
	PortDeviceOwnerKey = "ovirt_device_owner"
)

// DHCP_Options external_ids keys
const (
	SubnetNameKey            = "ovirt_subnet_name"
	SubnetNetworkIDKey       = "ovirt_network_id"
	SubnetIPVersionKey       = "ip_version"
	SubnetIPv6AddressModeKey = "ipv6_address_mode"
	SubnetIPv6GatewayKey     = "ovirt_ipv6_gateway"
	SubnetGatewayRouterKey   = "gateway_router"
)

// Logical_Router external_ids keys
const (
	RouterGatewayPortKey = "ovirt_gateway_port"
)

// Port_Group external_ids keys
const (
	SGNameKey        = "ovirt_sg_name"
	SGDescriptionKey = "ovirt_sg_description"
	SGCreatedAtKey   = "ovirt_created_at"
	SGUpdatedAtKey   = "ovirt_updated_at"
	SGRevisionKey    = "ovirt_rev_number"
	SGTenantKey      = "ovirt_tenant_id"
	SGDefaultKey     = "ovirt_default_sg"
	SGDropAllKey     = "ovirt_drop_all"
)

// ACL external_ids keys
const (
	RuleSecurityGroupKey = "ovirt_security_group_id"
	RuleEthertypeKey     = "ovirt_ethertype"
	RuleProtocolKey      = "ovirt_protocol"
	RuleIPPrefixKey      = "ovirt_ip_prefix"
	RuleMinPortKey       = "ovirt_min_port"
	RuleMaxPortKey       = "ovirt_max_port"
	RuleRemoteGroupKey   = "ovirt_remote_group_id"
	RuleDescriptionKey   = "ovirt_sg_rule_desc"
)

// Device owners of router attachments
const (
	DeviceOwnerRouterInterface = "network:router_interface"
	DeviceOwnerRouterGateway   = "network:router_gateway"
)

// Provider network types
const (
	NetworkTypeFlat = "flat"
	NetworkTypeVLAN = "vlan"
)

// Security group rule directions and ethertypes
const (
	DirectionIngress = "ingress"
	DirectionEgress  = "egress"
	EthertypeIPv4    = "IPv4"
	EthertypeIPv6    = "IPv6"
)

// Names of the groups the provider manages itself.
const (
	DefaultSecurityGroupName = "Default"
	DropAllPortGroupName     = "ovirt_drop_all"
)

// Network is a Logical_Switch with its optional localnet uplink.
type Network struct {
	LS       *ovndb.LogicalSwitch
	Localnet *ovndb.LogicalSwitchPort
}

// Port is a Logical_Switch_Port with the rows its REST view depends on.
type Port struct {
	LSP       *ovndb.LogicalSwitchPort
	NetworkID string
	Subnet    *ovndb.DHCPOptions
	// RouterPort is the peer Logical_Router_Port of a router attachment.
	RouterPort     *ovndb.LogicalRouterPort
	SecurityGroups []string
}

// Subnet is a DHCP_Options row.
type Subnet struct {
	DHCP *ovndb.DHCPOptions
}

// RouterGateway describes the external gateway attachment of a router.
type RouterGateway struct {
	NetworkID string
	SubnetID  string
	IP        string
	PortID    string
}

// Router is a Logical_Router with its static routes and gateway.
type Router struct {
	LR      *ovndb.LogicalRouter
	Routes  []*ovndb.LogicalRouterStaticRoute
	Gateway *RouterGateway
}

// RouterInterface pairs a router with one of its switch-side ports.
type RouterInterface struct {
	RouterID  string
	PortID    string
	SubnetID  string
	NetworkID string
}

// SecurityGroup is a Port_Group with its rules.
type SecurityGroup struct {
	PG    *ovndb.PortGroup
	Rules []*SecurityGroupRule
}

// SecurityGroupRule is an ACL of a security group.
type SecurityGroupRule struct {
	ACL             *ovndb.ACL
	SecurityGroupID string
}

// NetworkArgs are the parameters of add_network and update_network. Nil
// fields were not supplied. An empty Localnet removes the uplink.
type NetworkArgs struct {
	Name         *string
	Localnet     *string
	NetworkType  *string
	VLAN         *int
	MTU          *int
	PortSecurity *bool
}

// FixedIP is one element of a port's fixed_ips.
type FixedIP struct {
	IPAddress string
	SubnetID  string
}

// PortArgs are the parameters of add_port and update_port.
type PortArgs struct {
	NetworkID      string
	Name           *string
	MAC            *string
	Enabled        *bool
	DeviceID       *string
	DeviceOwner    *string
	FixedIPs       *[]FixedIP
	BindingHost    *string
	PortSecurity   *bool
	SecurityGroups *[]string
}

// SubnetArgs are the parameters of add_subnet and update_subnet.
type SubnetArgs struct {
	Name            *string
	CIDR            string
	NetworkID       string
	IPVersion       int
	GatewayIP       *string
	DNSNameservers  *[]string
	IPv6AddressMode *string
}

// GatewayInfo is a requested router external gateway.
type GatewayInfo struct {
	NetworkID string
	SubnetID  string
	IP        string
}

// Route is a router static route.
type Route struct {
	Destination string
	Nexthop     string
}

// RouterArgs are the parameters of add_router and update_router. GatewaySet
// with a nil Gateway removes the external gateway.
type RouterArgs struct {
	Name       *string
	Enabled    *bool
	GatewaySet bool
	Gateway    *GatewayInfo
	Routes     *[]Route
}

// RouterInterfaceArgs select the subnet or the port to attach or detach.
type RouterInterfaceArgs struct {
	SubnetID string
	PortID   string
}

// SecurityGroupArgs are the parameters of add_security_group and
// update_security_group.
type SecurityGroupArgs struct {
	Name        *string
	Description *string
	TenantID    *string
}

// SecurityGroupRuleArgs are the parameters of add_security_group_rule.
type SecurityGroupRuleArgs struct {
	SecurityGroupID string
	Direction       string
	Ethertype       string
	Protocol        *string
	PortRangeMin    *int
	PortRangeMax    *int
	RemoteIPPrefix  *string
	RemoteGroupID   *string
	Description     *string
}
