// Package ovndb provides DHCP_Options operations.
//
// A DHCP_Options row is the canonical form of a subnet. Ports reference it
// through dhcpv4_options or dhcpv6_options.
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/dhcp.go
package ovndb

import (
	"context"
)

// DHCP option keys
const (
	DHCPServerID    = "server_id"
	DHCPServerMAC   = "server_mac"
	DHCPLeaseTime   = "lease_time"
	DHCPMTU         = "mtu"
	DHCPRouter      = "router"
	DHCPDNSServer   = "dns_server"
	DHCPv6Stateless = "dhcpv6_stateless"
)

// GetDHCPOptions retrieves a DHCP_Options row by UUID.
func (o *Ops) GetDHCPOptions(ctx context.Context, uuid string) (*DHCPOptions, error) {
	dhcp := &DHCPOptions{UUID: uuid}
	if err := o.get(ctx, DHCPOptionsTable, uuid, dhcp); err != nil {
		return nil, err
	}
	return dhcp, nil
}

// ListDHCPOptions lists all DHCP_Options rows.
func (o *Ops) ListDHCPOptions(ctx context.Context) ([]*DHCPOptions, error) {
	var rows []*DHCPOptions
	if err := o.list(ctx, DHCPOptionsTable, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListDHCPOptionsByExternalID lists the DHCP_Options rows whose external_ids
// carry key=value.
func (o *Ops) ListDHCPOptionsByExternalID(ctx context.Context, key, value string) ([]*DHCPOptions, error) {
	rows, err := o.ListDHCPOptions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*DHCPOptions
	for _, row := range rows {
		if v, ok := row.ExternalIDs[key]; ok && v == value {
			out = append(out, row)
		}
	}
	return out, nil
}

// AddDHCPOptions queues the insert of dhcp.
func (t *Txn) AddDHCPOptions(dhcp *DHCPOptions) *Txn {
	return t.Insert(dhcp)
}

// SetDHCPOptionsOptions is dhcp_options_set_options: it replaces the options
// column of dhcp with options.
func (t *Txn) SetDHCPOptionsOptions(dhcp *DHCPOptions, options map[string]string) *Txn {
	dhcp.Options = copyMap(options)
	return t.Update(dhcp, &dhcp.Options)
}

// RemoveDHCPOptions queues the delete of a DHCP_Options row.
func (t *Txn) RemoveDHCPOptions(uuid string) *Txn {
	return t.Delete(&DHCPOptions{UUID: uuid})
}
