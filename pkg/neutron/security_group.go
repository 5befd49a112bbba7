package neutron

import (
	"context"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// SecurityGroupPortGroupName returns the Port_Group name of a security
// group. Port_Group names may not contain dashes.
func SecurityGroupPortGroupName(id string) string {
	return "ovirt_" + strings.ReplaceAll(id, "-", "_")
}

func isSecurityGroup(pg *ovndb.PortGroup) bool {
	_, ok := pg.ExternalIDs[SGNameKey]
	return ok
}

func isDefaultSecurityGroup(pg *ovndb.PortGroup) bool {
	return pg.ExternalIDs[SGDefaultKey] == "true"
}

func (a *NeutronAPI) securityGroup(ctx context.Context, id string) (*ovndb.PortGroup, error) {
	pg, err := a.ops.GetPortGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isSecurityGroup(pg) {
		return nil, apierr.NotFound("Security group %s does not exist", id)
	}
	return pg, nil
}

func ruleView(acl *ovndb.ACL) *SecurityGroupRule {
	return &SecurityGroupRule{ACL: acl, SecurityGroupID: acl.ExternalIDs[RuleSecurityGroupKey]}
}

func isRule(acl *ovndb.ACL) bool {
	_, ok := acl.ExternalIDs[RuleSecurityGroupKey]
	return ok
}

// ListSecurityGroups returns every security group with its rules.
func (a *NeutronAPI) ListSecurityGroups(ctx context.Context) ([]*SecurityGroup, error) {
	groups, err := a.ops.ListPortGroups(ctx)
	if err != nil {
		return nil, err
	}
	acls, err := a.ops.ListACLs(ctx)
	if err != nil {
		return nil, err
	}
	rulesOf := lo.GroupBy(lo.Filter(acls, func(acl *ovndb.ACL, _ int) bool { return isRule(acl) }),
		func(acl *ovndb.ACL) string { return acl.ExternalIDs[RuleSecurityGroupKey] })

	var out []*SecurityGroup
	for _, pg := range groups {
		if !isSecurityGroup(pg) {
			continue
		}
		out = append(out, &SecurityGroup{
			PG:    pg,
			Rules: lo.Map(rulesOf[pg.UUID], func(acl *ovndb.ACL, _ int) *SecurityGroupRule { return ruleView(acl) }),
		})
	}
	return out, nil
}

// GetSecurityGroup returns one security group with its rules.
func (a *NeutronAPI) GetSecurityGroup(ctx context.Context, id string) (*SecurityGroup, error) {
	pg, err := a.securityGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	acls, err := a.ops.ACLsOfPortGroup(ctx, pg)
	if err != nil {
		return nil, err
	}
	sg := &SecurityGroup{PG: pg}
	for _, acl := range acls {
		if isRule(acl) {
			sg.Rules = append(sg.Rules, ruleView(acl))
		}
	}
	return sg, nil
}

// AddSecurityGroup creates a security group with rules allowing all egress
// traffic and ingress traffic from its own members.
func (a *NeutronAPI) AddSecurityGroup(ctx context.Context, args SecurityGroupArgs) (*SecurityGroup, error) {
	id, err := a.createSecurityGroup(ctx, args, false)
	if err != nil {
		return nil, err
	}
	return a.GetSecurityGroup(ctx, id)
}

// createSecurityGroup inserts a Port_Group, renames it after its UUID and
// installs the automatic rules.
func (a *NeutronAPI) createSecurityGroup(ctx context.Context, args SecurityGroupArgs, isDefault bool) (string, error) {
	now := a.timestamp()
	tenant := lo.FromPtr(args.TenantID)
	if tenant == "" {
		tenant = a.cfg.Provider.TenantID
	}
	pg := &ovndb.PortGroup{
		UUID: ovndb.BuildNamedUUID(),
		Name: strings.ReplaceAll(placeholderName("ovirt_tmp_"), "-", "_"),
		ExternalIDs: map[string]string{
			SGNameKey:        lo.FromPtr(args.Name),
			SGDescriptionKey: lo.FromPtr(args.Description),
			SGCreatedAtKey:   now,
			SGUpdatedAtKey:   now,
			SGRevisionKey:    "1",
			SGTenantKey:      tenant,
		},
	}
	if isDefault {
		pg.ExternalIDs[SGDefaultKey] = "true"
	}
	res, err := a.commit(ctx, "add_security_group", a.ops.Txn().AddPortGroup(pg))
	if err != nil {
		return "", err
	}
	id := res.UUID(pg.UUID)

	renamed := &ovndb.PortGroup{UUID: id, Name: SecurityGroupPortGroupName(id)}
	t := a.ops.Txn().Update(renamed, &renamed.Name)
	rules := []SecurityGroupRuleArgs{
		{Direction: DirectionEgress, Ethertype: EthertypeIPv4},
		{Direction: DirectionEgress, Ethertype: EthertypeIPv6},
		{Direction: DirectionIngress, Ethertype: EthertypeIPv4, RemoteGroupID: &id},
		{Direction: DirectionIngress, Ethertype: EthertypeIPv6, RemoteGroupID: &id},
	}
	for _, rule := range rules {
		rule.SecurityGroupID = id
		var remote *ovndb.PortGroup
		if rule.RemoteGroupID != nil {
			remote = renamed
		}
		acl, err := BuildRuleACL(renamed, rule, remote)
		if err != nil {
			return "", err
		}
		t.AddACLToPortGroup(id, acl)
	}
	if _, err := a.commit(ctx, "name_security_group", t); err != nil {
		log := logging.LoggerForOVN(ctx, "rollback_security_group").WithValues("securityGroup", id)
		if _, rbErr := a.ops.Txn().RemovePortGroup(id).Commit(ctx); rbErr != nil {
			log.Error(rbErr, "Failed to delete security group after a failed rename")
		}
		return "", err
	}
	return id, nil
}

// bumpRevision queues the revision and update time change of a group.
func (a *NeutronAPI) bumpRevision(t *ovndb.Txn, pg *ovndb.PortGroup, changes map[string]string) {
	rev, _ := strconv.Atoi(pg.ExternalIDs[SGRevisionKey])
	kv := lo.Assign(changes, map[string]string{
		SGRevisionKey:  strconv.Itoa(rev + 1),
		SGUpdatedAtKey: a.timestamp(),
	})
	t.SetMapKeys(pg, &pg.ExternalIDs, kv)
}

// UpdateSecurityGroup patches the name and description of a group.
func (a *NeutronAPI) UpdateSecurityGroup(ctx context.Context, id string, args SecurityGroupArgs) (*SecurityGroup, error) {
	pg, err := a.securityGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	changes := map[string]string{}
	if args.Name != nil {
		if isDefaultSecurityGroup(pg) && *args.Name != pg.ExternalIDs[SGNameKey] {
			return nil, apierr.Conflictf("Unable to rename the default security group %s", id)
		}
		changes[SGNameKey] = *args.Name
	}
	if args.Description != nil {
		changes[SGDescriptionKey] = *args.Description
	}
	t := a.ops.Txn()
	a.bumpRevision(t, pg, changes)
	if _, err := a.commit(ctx, "update_security_group", t); err != nil {
		return nil, err
	}
	return a.GetSecurityGroup(ctx, id)
}

// DeleteSecurityGroup deletes a group that is neither the default group nor
// bound to a port. Its ACLs go with it.
func (a *NeutronAPI) DeleteSecurityGroup(ctx context.Context, id string) error {
	pg, err := a.securityGroup(ctx, id)
	if err != nil {
		return err
	}
	if isDefaultSecurityGroup(pg) {
		return apierr.Conflictf("Unable to delete the default security group %s", id)
	}
	if len(pg.Ports) > 0 {
		return apierr.Conflictf("Security group %s is in use by %d port(s)", id, len(pg.Ports))
	}
	_, err = a.commit(ctx, "delete_security_group", a.ops.Txn().RemovePortGroup(id))
	return err
}

// defaultGroup returns the default security group, creating it first.
func (a *NeutronAPI) defaultGroup(ctx context.Context) (*ovndb.PortGroup, error) {
	find := func() (*ovndb.PortGroup, error) {
		groups, err := a.ops.ListPortGroups(ctx)
		if err != nil {
			return nil, err
		}
		pg, _ := lo.Find(groups, isDefaultSecurityGroup)
		return pg, nil
	}
	pg, err := find()
	if err != nil || pg != nil {
		return pg, err
	}
	id, err := a.createSecurityGroup(ctx, SecurityGroupArgs{
		Name:        strPtr(DefaultSecurityGroupName),
		Description: strPtr("Default security group"),
	}, true)
	if err != nil {
		return nil, err
	}
	return a.ops.GetPortGroup(ctx, id)
}

// dropAllGroup returns the drop-all Port_Group, creating it first. Ports
// with port security belong to it so that traffic no rule admits is
// dropped.
func (a *NeutronAPI) dropAllGroup(ctx context.Context) (*ovndb.PortGroup, error) {
	pg, err := a.ops.GetPortGroupByName(ctx, DropAllPortGroupName)
	if err == nil || !ovndb.IsNotFound(err) {
		return pg, err
	}
	pg = &ovndb.PortGroup{
		UUID:        ovndb.BuildNamedUUID(),
		Name:        DropAllPortGroupName,
		ExternalIDs: map[string]string{SGDropAllKey: "true"},
	}
	t := a.ops.Txn()
	for _, acl := range dropAllACLs(DropAllPortGroupName) {
		t.Insert(acl)
		pg.ACLs = append(pg.ACLs, acl.UUID)
	}
	t.AddPortGroup(pg)
	if _, err := a.commit(ctx, "add_drop_all_group", t); err != nil {
		// Lost a race against a concurrent creator.
		if existing, getErr := a.ops.GetPortGroupByName(ctx, DropAllPortGroupName); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return a.ops.GetPortGroupByName(ctx, DropAllPortGroupName)
}

// ListSecurityGroupRules returns every rule of every security group.
func (a *NeutronAPI) ListSecurityGroupRules(ctx context.Context) ([]*SecurityGroupRule, error) {
	acls, err := a.ops.ListACLs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*SecurityGroupRule
	for _, acl := range acls {
		if isRule(acl) {
			out = append(out, ruleView(acl))
		}
	}
	return out, nil
}

// GetSecurityGroupRule returns one rule.
func (a *NeutronAPI) GetSecurityGroupRule(ctx context.Context, id string) (*SecurityGroupRule, error) {
	acl, err := a.ops.GetACL(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isRule(acl) {
		return nil, apierr.NotFound("Security group rule %s does not exist", id)
	}
	return ruleView(acl), nil
}

// AddSecurityGroupRule synthesizes the ACL of a rule and attaches it to the
// rule's group.
func (a *NeutronAPI) AddSecurityGroupRule(ctx context.Context, args SecurityGroupRuleArgs) (*SecurityGroupRule, error) {
	pg, err := a.securityGroup(ctx, args.SecurityGroupID)
	if err != nil {
		return nil, err
	}
	var remote *ovndb.PortGroup
	if id := lo.FromPtr(args.RemoteGroupID); id != "" {
		if args.RemoteIPPrefix != nil && *args.RemoteIPPrefix != "" {
			return nil, apierr.BadRequestf("Only remote_ip_prefix or remote_group_id may be provided")
		}
		remote, err = a.ops.GetPortGroup(ctx, id)
		if ovndb.IsNotFound(err) {
			return nil, apierr.Conflictf("Port group %s does not exist", id)
		}
		if err != nil {
			return nil, err
		}
	}
	acl, err := BuildRuleACL(pg, args, remote)
	if err != nil {
		return nil, err
	}
	t := a.ops.Txn().AddACLToPortGroup(pg.UUID, acl)
	a.bumpRevision(t, pg, nil)
	res, err := a.commit(ctx, "add_security_group_rule", t)
	if err != nil {
		return nil, err
	}
	return a.GetSecurityGroupRule(ctx, res.UUID(acl.UUID))
}

// DeleteSecurityGroupRule detaches and deletes the ACL of a rule.
func (a *NeutronAPI) DeleteSecurityGroupRule(ctx context.Context, id string) error {
	rule, err := a.GetSecurityGroupRule(ctx, id)
	if err != nil {
		return err
	}
	t := a.ops.Txn().RemoveACLFromPortGroup(rule.SecurityGroupID, id)
	if pg, err := a.ops.GetPortGroup(ctx, rule.SecurityGroupID); err == nil {
		a.bumpRevision(t, pg, nil)
	}
	_, err = a.commit(ctx, "delete_security_group_rule", t)
	return err
}
