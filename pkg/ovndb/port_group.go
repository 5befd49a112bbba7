// Package ovndb provides Port_Group operations.
//
// Every security group is one Port_Group. Its ACLs implement the group's
// rules and its ports are the switch ports the rules apply to.
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/portgroup.go
package ovndb

import (
	"context"
	"regexp"
)

// portGroupNameRE is the naming rule OVN enforces on Port_Group names.
var portGroupNameRE = regexp.MustCompile(`^[a-zA-Z_.][a-zA-Z_.0-9]*$`)

// ValidPortGroupName reports whether name is acceptable to OVN.
func ValidPortGroupName(name string) bool {
	return portGroupNameRE.MatchString(name)
}

// GetPortGroup retrieves a Port_Group by UUID.
func (o *Ops) GetPortGroup(ctx context.Context, uuid string) (*PortGroup, error) {
	pg := &PortGroup{UUID: uuid}
	if err := o.get(ctx, PortGroupTable, uuid, pg); err != nil {
		return nil, err
	}
	return pg, nil
}

// GetPortGroupByName retrieves a Port_Group by name.
func (o *Ops) GetPortGroupByName(ctx context.Context, name string) (*PortGroup, error) {
	pg := &PortGroup{Name: name}
	if err := o.get(ctx, PortGroupTable, name, pg); err != nil {
		return nil, err
	}
	return pg, nil
}

// ListPortGroups lists all Port_Groups.
func (o *Ops) ListPortGroups(ctx context.Context) ([]*PortGroup, error) {
	var groups []*PortGroup
	if err := o.list(ctx, PortGroupTable, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// PortGroupsOfPort returns the Port_Groups that contain lspUUID.
func (o *Ops) PortGroupsOfPort(ctx context.Context, lspUUID string) ([]*PortGroup, error) {
	groups, err := o.ListPortGroups(ctx)
	if err != nil {
		return nil, err
	}
	var out []*PortGroup
	for _, pg := range groups {
		for _, p := range pg.Ports {
			if p == lspUUID {
				out = append(out, pg)
				break
			}
		}
	}
	return out, nil
}

// AddPortGroup is pg_add: it queues the insert of pg.
func (t *Txn) AddPortGroup(pg *PortGroup) *Txn {
	return t.Insert(pg)
}

// RemovePortGroup is pg_del: it queues the delete of a Port_Group. Its ACLs
// are garbage collected by the database.
func (t *Txn) RemovePortGroup(uuid string) *Txn {
	return t.Delete(&PortGroup{UUID: uuid})
}

// AddPortsToPortGroup queues the insert of switch ports into a Port_Group.
func (t *Txn) AddPortsToPortGroup(pgUUID string, lspUUIDs ...string) *Txn {
	if len(lspUUIDs) == 0 {
		return t
	}
	pg := &PortGroup{UUID: pgUUID}
	return t.Mutate(pg, insertInto(&pg.Ports, lspUUIDs...))
}

// RemovePortsFromPortGroup queues the removal of switch ports from a
// Port_Group.
func (t *Txn) RemovePortsFromPortGroup(pgUUID string, lspUUIDs ...string) *Txn {
	if len(lspUUIDs) == 0 {
		return t
	}
	pg := &PortGroup{UUID: pgUUID}
	return t.Mutate(pg, deleteFrom(&pg.Ports, lspUUIDs...))
}

// AddACLToPortGroup is pg_acl_add: it queues the insert of acl and its
// attachment to the Port_Group pgUUID. acl.UUID must be a named UUID.
func (t *Txn) AddACLToPortGroup(pgUUID string, acl *ACL) *Txn {
	pg := &PortGroup{UUID: pgUUID}
	return t.Insert(acl).Mutate(pg, insertInto(&pg.ACLs, acl.UUID))
}

// RemoveACLFromPortGroup is pg_acl_del.
func (t *Txn) RemoveACLFromPortGroup(pgUUID, aclUUID string) *Txn {
	pg := &PortGroup{UUID: pgUUID}
	return t.Mutate(pg, deleteFrom(&pg.ACLs, aclUUID)).Delete(&ACL{UUID: aclUUID})
}
