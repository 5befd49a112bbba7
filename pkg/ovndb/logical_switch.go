// Package ovndb provides Logical Switch operations.
//
// Every network is one Logical Switch whose identity is its row UUID.
//
// Key OVN Logical Switch fields used by the provider:
// - ports: Logical Switch Port UUIDs
// - other_config: subnet, ipv6_prefix and exclude_ips
// - external_ids: network name, mtu and port security default
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/switch.go
package ovndb

import (
	"context"
	"strings"
)

// Logical Switch other_config keys
const (
	LSOtherConfigSubnet     = "subnet"
	LSOtherConfigIPv6Prefix = "ipv6_prefix"
	LSOtherConfigExcludeIPs = "exclude_ips"
)

// GetLogicalSwitch retrieves a Logical Switch by UUID.
//
// Returns an ElementNotFound error if the switch does not exist.
func (o *Ops) GetLogicalSwitch(ctx context.Context, uuid string) (*LogicalSwitch, error) {
	ls := &LogicalSwitch{UUID: uuid}
	if err := o.get(ctx, LogicalSwitchTable, uuid, ls); err != nil {
		return nil, err
	}
	return ls, nil
}

// ListLogicalSwitches lists all Logical Switches.
func (o *Ops) ListLogicalSwitches(ctx context.Context) ([]*LogicalSwitch, error) {
	var switches []*LogicalSwitch
	if err := o.list(ctx, LogicalSwitchTable, &switches); err != nil {
		return nil, err
	}
	return switches, nil
}

// LogicalSwitchForPort returns the switch whose ports contain lspUUID.
func (o *Ops) LogicalSwitchForPort(ctx context.Context, lspUUID string) (*LogicalSwitch, error) {
	switches, err := o.ListLogicalSwitches(ctx)
	if err != nil {
		return nil, err
	}
	for _, ls := range switches {
		for _, p := range ls.Ports {
			if p == lspUUID {
				return ls, nil
			}
		}
	}
	return nil, NewObjectNotFoundError(LogicalSwitchTable, "for port "+lspUUID)
}

// AddLogicalSwitch queues the insert of ls. ls.UUID should be a named UUID.
func (t *Txn) AddLogicalSwitch(ls *LogicalSwitch) *Txn {
	return t.Insert(ls)
}

// RemoveLogicalSwitch queues the delete of a switch. Its ports are garbage
// collected by the database.
func (t *Txn) RemoveLogicalSwitch(uuid string) *Txn {
	return t.Delete(&LogicalSwitch{UUID: uuid})
}

// ExcludeIPs returns the parsed other_config:exclude_ips entries of ls.
// Ranges ("a..b") are returned unparsed with ok set to false.
func ExcludeIPs(ls *LogicalSwitch) (ips []string, ok bool) {
	raw := strings.Fields(ls.OtherConfig[LSOtherConfigExcludeIPs])
	ok = true
	for _, ip := range raw {
		if strings.Contains(ip, "..") {
			ok = false
		}
		ips = append(ips, ip)
	}
	return ips, ok
}
