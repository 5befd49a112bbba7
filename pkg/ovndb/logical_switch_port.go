// Package ovndb provides Logical Switch Port operations.
//
// Port kinds handled by the provider:
// - "" (normal): a VM vNIC, named after its own row UUID
// - "router": the switch side of a router attachment, options:router-port names the peer
// - "localnet": the uplink of a provider network, options:network_name names the physical network
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/switch.go
package ovndb

import (
	"context"
)

// Port type constants
const (
	PortTypeNormal   = ""
	PortTypeRouter   = "router"
	PortTypeLocalnet = "localnet"
)

// Port option keys
const (
	// OptionRouterPort names the peer Logical Router Port of a router port.
	OptionRouterPort = "router-port"

	// OptionRequestedChassis pins a port to a chassis (binding host).
	OptionRequestedChassis = "requested-chassis"

	// OptionNetworkName names the physical network of a localnet port.
	OptionNetworkName = "network_name"
)

// Address tokens
const (
	AddressDynamic = "dynamic"
	AddressRouter  = "router"
	AddressUnknown = "unknown"
)

// GetLogicalSwitchPort retrieves a Logical Switch Port by UUID.
func (o *Ops) GetLogicalSwitchPort(ctx context.Context, uuid string) (*LogicalSwitchPort, error) {
	lsp := &LogicalSwitchPort{UUID: uuid}
	if err := o.get(ctx, LogicalSwitchPortTable, uuid, lsp); err != nil {
		return nil, err
	}
	return lsp, nil
}

// GetLogicalSwitchPortByName retrieves a Logical Switch Port by its name
// column.
func (o *Ops) GetLogicalSwitchPortByName(ctx context.Context, name string) (*LogicalSwitchPort, error) {
	lsp := &LogicalSwitchPort{Name: name}
	if err := o.get(ctx, LogicalSwitchPortTable, name, lsp); err != nil {
		return nil, err
	}
	return lsp, nil
}

// ListLogicalSwitchPorts lists all Logical Switch Ports.
func (o *Ops) ListLogicalSwitchPorts(ctx context.Context) ([]*LogicalSwitchPort, error) {
	var ports []*LogicalSwitchPort
	if err := o.list(ctx, LogicalSwitchPortTable, &ports); err != nil {
		return nil, err
	}
	return ports, nil
}

// PortsOfSwitch returns the ports of ls, in the order of ls.Ports.
func (o *Ops) PortsOfSwitch(ctx context.Context, ls *LogicalSwitch) ([]*LogicalSwitchPort, error) {
	ports := make([]*LogicalSwitchPort, 0, len(ls.Ports))
	for _, id := range ls.Ports {
		lsp, err := o.GetLogicalSwitchPort(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		ports = append(ports, lsp)
	}
	return ports, nil
}

// AddLogicalSwitchPort queues the insert of lsp and its attachment to the
// switch lsUUID. lsp.UUID must be a named UUID.
func (t *Txn) AddLogicalSwitchPort(lsUUID string, lsp *LogicalSwitchPort) *Txn {
	ls := &LogicalSwitch{UUID: lsUUID}
	return t.Insert(lsp).Mutate(ls, insertInto(&ls.Ports, lsp.UUID))
}

// RemoveLogicalSwitchPort queues the detachment of a port from its switch
// and the delete of the port row.
func (t *Txn) RemoveLogicalSwitchPort(lsUUID, lspUUID string) *Txn {
	ls := &LogicalSwitch{UUID: lsUUID}
	return t.Mutate(ls, deleteFrom(&ls.Ports, lspUUID)).Delete(&LogicalSwitchPort{UUID: lspUUID})
}
