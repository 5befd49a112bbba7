package neutron

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// ValidateProviderNetwork checks a provider network triple: flat needs a
// physical network only, vlan needs a physical network and a segmentation
// id.
func ValidateProviderNetwork(physicalNetwork, networkType string, vlan *int) error {
	switch networkType {
	case NetworkTypeFlat:
		if physicalNetwork == "" {
			return apierr.BadRequestf("provider:physical_network is mandatory for a flat network")
		}
		if vlan != nil {
			return apierr.BadRequestf("provider:segmentation_id can not be set for a flat network")
		}
	case NetworkTypeVLAN:
		if physicalNetwork == "" {
			return apierr.BadRequestf("provider:physical_network is mandatory for a vlan network")
		}
		if vlan == nil {
			return apierr.BadRequestf("provider:segmentation_id is mandatory for a vlan network")
		}
	case "":
		if vlan != nil {
			return apierr.BadRequestf("provider:network_type is mandatory when provider:segmentation_id is set")
		}
		if physicalNetwork != "" {
			return apierr.BadRequestf("provider:network_type is mandatory when provider:physical_network is set")
		}
	default:
		return apierr.BadRequestf("Network type %s is not supported. Supported types: %s, %s",
			networkType, NetworkTypeFlat, NetworkTypeVLAN)
	}
	return nil
}

// ProviderNetwork returns the physical network, the network type and the
// VLAN of a localnet port.
func ProviderNetwork(localnet *ovndb.LogicalSwitchPort) (physicalNetwork, networkType string, vlan *int) {
	if localnet == nil {
		return "", "", nil
	}
	vlan = localnet.TagRequest
	if vlan == nil {
		vlan = localnet.Tag
	}
	networkType = NetworkTypeFlat
	if vlan != nil {
		networkType = NetworkTypeVLAN
	}
	return localnet.Options[ovndb.OptionNetworkName], networkType, vlan
}

func localnetOf(ls *ovndb.LogicalSwitch, ports map[string]*ovndb.LogicalSwitchPort) *ovndb.LogicalSwitchPort {
	for _, id := range ls.Ports {
		if lsp, ok := ports[id]; ok && isLocalnetPort(lsp) {
			return lsp
		}
	}
	return nil
}

// ListNetworks returns every Logical_Switch as a network.
func (a *NeutronAPI) ListNetworks(ctx context.Context) ([]*Network, error) {
	switches, err := a.ops.ListLogicalSwitches(ctx)
	if err != nil {
		return nil, err
	}
	lsps, err := a.ops.ListLogicalSwitchPorts(ctx)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(lsps, func(lsp *ovndb.LogicalSwitchPort) string { return lsp.UUID })
	return lo.Map(switches, func(ls *ovndb.LogicalSwitch, _ int) *Network {
		return &Network{LS: ls, Localnet: localnetOf(ls, byID)}
	}), nil
}

// GetNetwork returns one network.
func (a *NeutronAPI) GetNetwork(ctx context.Context, id string) (*Network, error) {
	ls, err := a.ops.GetLogicalSwitch(ctx, id)
	if err != nil {
		return nil, err
	}
	ports, err := a.ops.PortsOfSwitch(ctx, ls)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(ports, func(lsp *ovndb.LogicalSwitchPort) string { return lsp.UUID })
	return &Network{LS: ls, Localnet: localnetOf(ls, byID)}, nil
}

func newLocalnetPort(physicalNetwork string, vlan *int) *ovndb.LogicalSwitchPort {
	return &ovndb.LogicalSwitchPort{
		UUID:       ovndb.BuildNamedUUID(),
		Name:       "localnet-" + uuid.NewString(),
		Type:       ovndb.PortTypeLocalnet,
		Addresses:  []string{ovndb.AddressUnknown},
		Options:    map[string]string{ovndb.OptionNetworkName: physicalNetwork},
		TagRequest: vlan,
	}
}

// AddNetwork creates a Logical_Switch and, for provider networks, its
// localnet port.
func (a *NeutronAPI) AddNetwork(ctx context.Context, args NetworkArgs) (*Network, error) {
	name := lo.FromPtr(args.Name)
	portSecurity := a.cfg.Network.PortSecurityEnabledDefault
	if args.PortSecurity != nil {
		portSecurity = *args.PortSecurity
	}

	ls := &ovndb.LogicalSwitch{
		UUID: ovndb.BuildNamedUUID(),
		Name: name,
		ExternalIDs: map[string]string{
			NetworkNameKey:         name,
			NetworkPortSecurityKey: boolString(portSecurity),
		},
	}
	if args.MTU != nil {
		ls.ExternalIDs[NetworkMTUKey] = strconv.Itoa(*args.MTU)
	}

	// Rows referenced by named UUID are inserted before the row that
	// references them.
	t := a.ops.Txn()
	physnet := lo.FromPtr(args.Localnet)
	if physnet != "" || args.NetworkType != nil || args.VLAN != nil {
		if err := ValidateProviderNetwork(physnet, lo.FromPtr(args.NetworkType), args.VLAN); err != nil {
			return nil, err
		}
		localnet := newLocalnetPort(physnet, args.VLAN)
		t.Insert(localnet)
		ls.Ports = append(ls.Ports, localnet.UUID)
	}
	t.AddLogicalSwitch(ls)

	res, err := a.commit(ctx, "add_network", t)
	if err != nil {
		return nil, err
	}
	return a.GetNetwork(ctx, res.UUID(ls.UUID))
}

// UpdateNetwork patches name, MTU, port security and the provider network
// of a network. A new MTU is propagated to the network's subnet.
func (a *NeutronAPI) UpdateNetwork(ctx context.Context, id string, args NetworkArgs) (*Network, error) {
	n, err := a.GetNetwork(ctx, id)
	if err != nil {
		return nil, err
	}
	ls := n.LS
	t := a.ops.Txn()

	ext := map[string]string{}
	if args.Name != nil {
		ls.Name = *args.Name
		t.Update(ls, &ls.Name)
		ext[NetworkNameKey] = *args.Name
	}
	if args.MTU != nil {
		ext[NetworkMTUKey] = strconv.Itoa(*args.MTU)
	}
	if args.PortSecurity != nil {
		ext[NetworkPortSecurityKey] = boolString(*args.PortSecurity)
	}
	if len(ext) > 0 {
		t.SetMapKeys(ls, &ls.ExternalIDs, ext)
	}

	if err := a.updateLocalnet(t, n, args); err != nil {
		return nil, err
	}

	// DHCPv6 has no MTU option in OVN, so only IPv4 subnets carry it.
	if args.MTU != nil && a.cfg.DHCP.EnableMTU {
		dhcp, err := a.subnetOfNetwork(ctx, id)
		if err != nil {
			return nil, err
		}
		if dhcp != nil && !subnetIsIPv6(dhcp) {
			opts := dhcp.Options
			if opts == nil {
				opts = map[string]string{}
			}
			opts[ovndb.DHCPMTU] = strconv.Itoa(*args.MTU)
			t.SetDHCPOptionsOptions(dhcp, opts)
		}
	}

	if _, err := a.commit(ctx, "update_network", t); err != nil {
		return nil, err
	}
	return a.GetNetwork(ctx, id)
}

// updateLocalnet merges the requested provider fields with the current
// localnet port and queues its insert, update or removal.
func (a *NeutronAPI) updateLocalnet(t *ovndb.Txn, n *Network, args NetworkArgs) error {
	if args.Localnet == nil && args.NetworkType == nil && args.VLAN == nil {
		return nil
	}
	if args.Localnet != nil && *args.Localnet == "" {
		if n.Localnet != nil {
			t.RemoveLogicalSwitchPort(n.LS.UUID, n.Localnet.UUID)
		}
		return nil
	}

	physnet, networkType, vlan := ProviderNetwork(n.Localnet)
	if args.Localnet != nil {
		physnet = *args.Localnet
	}
	if args.NetworkType != nil {
		networkType = *args.NetworkType
		if networkType == NetworkTypeFlat {
			vlan = nil
		}
	}
	if args.VLAN != nil {
		vlan = args.VLAN
	}
	if err := ValidateProviderNetwork(physnet, networkType, vlan); err != nil {
		return err
	}

	if n.Localnet == nil {
		t.AddLogicalSwitchPort(n.LS.UUID, newLocalnetPort(physnet, vlan))
		return nil
	}
	lsp := n.Localnet
	opts := lsp.Options
	if opts == nil {
		opts = map[string]string{}
	}
	opts[ovndb.OptionNetworkName] = physnet
	lsp.Options = opts
	lsp.TagRequest = vlan
	t.Update(lsp, &lsp.Options, &lsp.TagRequest)
	return nil
}

// DeleteNetwork deletes a network without ports together with its subnet.
func (a *NeutronAPI) DeleteNetwork(ctx context.Context, id string) error {
	ls, err := a.ops.GetLogicalSwitch(ctx, id)
	if err != nil {
		return err
	}
	ports, err := a.ops.PortsOfSwitch(ctx, ls)
	if err != nil {
		return err
	}
	if err := networkHasNoPorts(ls, ports); err != nil {
		return err
	}
	subnets, err := a.ops.ListDHCPOptionsByExternalID(ctx, SubnetNetworkIDKey, id)
	if err != nil {
		return err
	}

	t := a.ops.Txn()
	for _, dhcp := range subnets {
		t.RemoveDHCPOptions(dhcp.UUID)
	}
	t.RemoveLogicalSwitch(id)
	_, err = a.commit(ctx, "delete_network", t)
	return err
}

// subnetOfNetwork returns the subnet of a network, or nil.
func (a *NeutronAPI) subnetOfNetwork(ctx context.Context, networkID string) (*ovndb.DHCPOptions, error) {
	subnets, err := a.ops.ListDHCPOptionsByExternalID(ctx, SubnetNetworkIDKey, networkID)
	if err != nil {
		return nil, err
	}
	if len(subnets) == 0 {
		return nil, nil
	}
	return subnets[0], nil
}
