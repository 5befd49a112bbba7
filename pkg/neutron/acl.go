package neutron

import (
	"fmt"
	"strconv"
	"strings"

	utilnet "k8s.io/utils/net"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// Protocol keywords understood in rules.
const (
	ProtocolTCP    = "tcp"
	ProtocolUDP    = "udp"
	ProtocolICMP   = "icmp"
	ProtocolICMPv6 = "icmpv6"
)

var protocolByNumber = map[int]string{
	1:  ProtocolICMP,
	6:  ProtocolTCP,
	17: ProtocolUDP,
	58: ProtocolICMPv6,
}

// normalizeProtocol maps a rule protocol to a keyword, or to a protocol
// number when no keyword is known for it.
func normalizeProtocol(protocol string) (keyword string, number int, err error) {
	p := strings.ToLower(strings.TrimSpace(protocol))
	switch p {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolICMPv6:
		return p, -1, nil
	case "ipv6-icmp":
		return ProtocolICMPv6, -1, nil
	}
	n, convErr := strconv.Atoi(p)
	if convErr != nil || n < 0 || n > 255 {
		return "", -1, apierr.BadRequestf("Protocol %s is not supported. Use tcp, udp, icmp, icmpv6 or a number in [0, 255]", protocol)
	}
	if kw, ok := protocolByNumber[n]; ok {
		return kw, -1, nil
	}
	return "", n, nil
}

// AddressSetName returns the name of the address set OVN maintains for the
// addresses of a port group's ports.
func AddressSetName(pgName, ethertype string) string {
	if ethertype == EthertypeIPv6 {
		return pgName + "_ip6"
	}
	return pgName + "_ip4"
}

// BuildRuleMatch builds the ACL match expression of a security group rule
// of the port group pgName. remotePGName is the port group of the rule's
// remote group, or "".
func BuildRuleMatch(pgName string, rule SecurityGroupRuleArgs, remotePGName string) (string, error) {
	ipVer := "ip4"
	if rule.Ethertype == EthertypeIPv6 {
		ipVer = "ip6"
	}

	var conditions []string
	addrField := ipVer + ".dst"
	if rule.Direction == DirectionIngress {
		conditions = append(conditions, ovndb.BuildOutportGroupMatch(pgName))
		addrField = ipVer + ".src"
	} else {
		conditions = append(conditions, ovndb.BuildInportGroupMatch(pgName))
	}
	conditions = append(conditions, ipVer)

	if rule.RemoteIPPrefix != nil && *rule.RemoteIPPrefix != "" {
		conditions = append(conditions, ovndb.BuildIPMatch(addrField, *rule.RemoteIPPrefix))
	}
	if remotePGName != "" {
		conditions = append(conditions, ovndb.BuildIPMatch(addrField, "$"+AddressSetName(remotePGName, rule.Ethertype)))
	}

	transport, err := buildTransportMatch(rule)
	if err != nil {
		return "", err
	}
	conditions = append(conditions, transport...)
	return ovndb.BuildMatchExpression(conditions...), nil
}

func buildTransportMatch(rule SecurityGroupRuleArgs) ([]string, error) {
	if rule.Protocol == nil || *rule.Protocol == "" {
		if rule.PortRangeMin != nil || rule.PortRangeMax != nil {
			return nil, apierr.BadRequestf("A port range requires a protocol")
		}
		return nil, nil
	}
	keyword, number, err := normalizeProtocol(*rule.Protocol)
	if err != nil {
		return nil, err
	}

	switch keyword {
	case ProtocolTCP, ProtocolUDP:
		out := []string{keyword}
		low, high := rule.PortRangeMin, rule.PortRangeMax
		if low != nil && high != nil && *low > *high {
			return nil, apierr.BadRequestf("port_range_min %d must be lower or equal to port_range_max %d", *low, *high)
		}
		switch {
		case low != nil && high != nil && *low == *high:
			out = append(out, ovndb.BuildPortMatch(keyword, "dst", *low))
		default:
			if low != nil {
				out = append(out, ovndb.BuildPortBoundMatch(keyword, "dst", ">=", *low))
			}
			if high != nil {
				out = append(out, ovndb.BuildPortBoundMatch(keyword, "dst", "<=", *high))
			}
		}
		return out, nil

	case ProtocolICMP, ProtocolICMPv6:
		icmp := "icmp4"
		if rule.Ethertype == EthertypeIPv6 {
			icmp = "icmp6"
		}
		out := []string{icmp}
		if rule.PortRangeMin != nil {
			out = append(out, fmt.Sprintf("%s.type == %d", icmp, *rule.PortRangeMin))
		}
		if rule.PortRangeMax != nil {
			out = append(out, fmt.Sprintf("%s.code == %d", icmp, *rule.PortRangeMax))
		}
		return out, nil
	}

	if rule.PortRangeMin != nil || rule.PortRangeMax != nil {
		return nil, apierr.BadRequestf("A port range is only supported for tcp, udp and icmp")
	}
	return []string{fmt.Sprintf("ip.proto == %d", number)}, nil
}

// validateRuleAddressFamily rejects a remote prefix of the wrong IP family.
func validateRuleAddressFamily(rule SecurityGroupRuleArgs) error {
	if rule.RemoteIPPrefix == nil || *rule.RemoteIPPrefix == "" {
		return nil
	}
	prefix := *rule.RemoteIPPrefix
	isV6 := utilnet.IsIPv6CIDRString(prefix) || utilnet.IsIPv6String(prefix)
	isV4 := utilnet.IsIPv4CIDRString(prefix) || utilnet.IsIPv4String(prefix)
	switch {
	case !isV4 && !isV6:
		return apierr.BadRequestf("Invalid remote_ip_prefix %s", prefix)
	case isV6 && rule.Ethertype != EthertypeIPv6, isV4 && rule.Ethertype != EthertypeIPv4:
		return apierr.BadRequestf("Conflicting value ethertype %s for CIDR %s", rule.Ethertype, prefix)
	}
	return nil
}

// BuildRuleACL synthesizes the ACL of a rule of the group sg. remote is
// the port group of the rule's remote group, or nil.
func BuildRuleACL(sg *ovndb.PortGroup, rule SecurityGroupRuleArgs, remote *ovndb.PortGroup) (*ovndb.ACL, error) {
	if err := validateRuleAddressFamily(rule); err != nil {
		return nil, err
	}
	remoteName := ""
	if remote != nil {
		remoteName = remote.Name
	}
	match, err := BuildRuleMatch(sg.Name, rule, remoteName)
	if err != nil {
		return nil, err
	}

	direction := ovndb.ACLDirectionFromLport
	if rule.Direction == DirectionIngress {
		direction = ovndb.ACLDirectionToLport
	}

	extIDs := map[string]string{
		RuleSecurityGroupKey: sg.UUID,
		RuleEthertypeKey:     rule.Ethertype,
	}
	setIfPresent(extIDs, RuleProtocolKey, rule.Protocol)
	setIfPresent(extIDs, RuleIPPrefixKey, rule.RemoteIPPrefix)
	setIfPresent(extIDs, RuleDescriptionKey, rule.Description)
	if rule.PortRangeMin != nil {
		extIDs[RuleMinPortKey] = strconv.Itoa(*rule.PortRangeMin)
	}
	if rule.PortRangeMax != nil {
		extIDs[RuleMaxPortKey] = strconv.Itoa(*rule.PortRangeMax)
	}
	if remote != nil {
		extIDs[RuleRemoteGroupKey] = remote.UUID
	}

	return ovndb.BuildACL("", direction, ovndb.ACLPriorityAllowBase, match, ovndb.ACLActionAllowRelated, extIDs), nil
}

// dropAllACLs are the catch-all drop ACLs of the drop-all port group.
func dropAllACLs(pgName string) []*ovndb.ACL {
	extIDs := func() map[string]string { return map[string]string{SGDropAllKey: "true"} }
	return []*ovndb.ACL{
		ovndb.BuildACL("", ovndb.ACLDirectionFromLport, ovndb.ACLPriorityDropAll,
			ovndb.BuildMatchExpression(ovndb.BuildInportGroupMatch(pgName), "ip"), ovndb.ACLActionDrop, extIDs()),
		ovndb.BuildACL("", ovndb.ACLDirectionToLport, ovndb.ACLPriorityDropAll,
			ovndb.BuildMatchExpression(ovndb.BuildOutportGroupMatch(pgName), "ip"), ovndb.ACLActionDrop, extIDs()),
	}
}

func setIfPresent(m map[string]string, key string, value *string) {
	if value != nil && *value != "" {
		m[key] = *value
	}
}
