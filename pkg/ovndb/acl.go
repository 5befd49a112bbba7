// Package ovndb provides ACL (Access Control List) operations.
//
// Key OVN ACL fields:
// - direction: "from-lport" (egress) or "to-lport" (ingress)
// - priority: Higher priority rules are evaluated first (0-32767)
// - match: OVN match expression (e.g., "ip4.src == 10.0.0.0/8 && tcp.dst == 80")
// - action: "allow-related" or "drop"
//
// Priority Guidelines:
// - Default deny: 1000
// - Allow rules: 1001
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/acl.go
package ovndb

import (
	"context"
	"fmt"
	"strings"
)

// ACL priority constants
const (
	ACLPriorityDropAll   = 1000
	ACLPriorityAllowBase = 1001
)

// GetACL retrieves an ACL by UUID.
func (o *Ops) GetACL(ctx context.Context, uuid string) (*ACL, error) {
	acl := &ACL{UUID: uuid}
	if err := o.get(ctx, ACLTable, uuid, acl); err != nil {
		return nil, err
	}
	return acl, nil
}

// ListACLs lists all ACLs.
func (o *Ops) ListACLs(ctx context.Context) ([]*ACL, error) {
	var acls []*ACL
	if err := o.list(ctx, ACLTable, &acls); err != nil {
		return nil, err
	}
	return acls, nil
}

// ACLsOfPortGroup returns the ACLs attached to pg.
func (o *Ops) ACLsOfPortGroup(ctx context.Context, pg *PortGroup) ([]*ACL, error) {
	acls := make([]*ACL, 0, len(pg.ACLs))
	for _, id := range pg.ACLs {
		acl, err := o.GetACL(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		acls = append(acls, acl)
	}
	return acls, nil
}

// BuildACL builds an ACL with a fresh named UUID. Names are truncated to
// the 63 characters OVN accepts.
func BuildACL(name string, direction string, priority int, match, action string, externalIDs map[string]string) *ACL {
	var aclName *string
	if name != "" {
		n := name
		if len(n) > 63 {
			n = n[:63]
		}
		aclName = &n
	}

	return &ACL{
		UUID:        BuildNamedUUID(),
		Name:        aclName,
		Direction:   direction,
		Priority:    priority,
		Match:       match,
		Action:      action,
		ExternalIDs: externalIDs,
	}
}

// BuildMatchExpression joins the non-empty conditions with "&&".
//
// Example:
//
//	match := BuildMatchExpression(
//	    "ip4.src == 10.244.0.0/16",
//	    "tcp.dst == 80",
//	)
//	// Result: "ip4.src == 10.244.0.0/16 && tcp.dst == 80"
func BuildMatchExpression(conditions ...string) string {
	parts := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " && ")
}

// BuildIPMatch builds an address match, e.g. "ip4.src == 10.244.0.0/16".
func BuildIPMatch(field, cidr string) string {
	return fmt.Sprintf("%s == %s", field, cidr)
}

// BuildPortMatch builds a port match, e.g. "tcp.dst == 80".
func BuildPortMatch(protocol, direction string, port int) string {
	return fmt.Sprintf("%s.%s == %d", protocol, direction, port)
}

// BuildPortBoundMatch builds one side of a port range, e.g. "tcp.dst >= 80".
func BuildPortBoundMatch(protocol, direction, op string, port int) string {
	return fmt.Sprintf("%s.%s %s %d", protocol, direction, op, port)
}

// BuildInportGroupMatch matches traffic entering from any port of a group.
func BuildInportGroupMatch(pgName string) string {
	return "inport == @" + pgName
}

// BuildOutportGroupMatch matches traffic leaving to any port of a group.
func BuildOutportGroupMatch(pgName string) string {
	return "outport == @" + pgName
}
