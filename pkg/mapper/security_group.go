package mapper

import (
	"context"
	"encoding/json"
	"net"
	"strconv"

	"github.com/samber/lo"
	utilnet "k8s.io/utils/net"

	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// Security group payload keys
const (
	SecurityGroupKey      = "security_group"
	SecurityGroupsKey     = "security_groups"
	SecurityGroupRuleKey  = "security_group_rule"
	SecurityGroupRulesKey = "security_group_rules"
)

type securityGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	TenantID    *string `json:"tenant_id"`
	ProjectID   *string `json:"project_id"`
}

var (
	addSecurityGroupKeys    = Keys{Mandatory: []string{"name"}, Optional: optional([]string{"description"}, tenantKeys)}
	updateSecurityGroupKeys = Keys{Optional: []string{"name", "description"}}
)

// SecurityGroupResponse is the REST form of a security group.
type SecurityGroupResponse struct {
	ID             string                       `json:"id"`
	Name           string                       `json:"name"`
	Description    string                       `json:"description"`
	TenantID       string                       `json:"tenant_id"`
	ProjectID      string                       `json:"project_id"`
	CreatedAt      string                       `json:"created_at"`
	UpdatedAt      string                       `json:"updated_at"`
	RevisionNumber int                          `json:"revision_number"`
	Tags           []string                     `json:"tags"`
	Rules          []*SecurityGroupRuleResponse `json:"security_group_rules"`
}

// SecurityGroupRuleResponse is the REST form of a security group rule.
// Unset optional fields render as null.
type SecurityGroupRuleResponse struct {
	ID              string  `json:"id"`
	SecurityGroupID string  `json:"security_group_id"`
	TenantID        string  `json:"tenant_id"`
	ProjectID       string  `json:"project_id"`
	Direction       string  `json:"direction"`
	Ethertype       string  `json:"ethertype"`
	Protocol        *string `json:"protocol"`
	PortRangeMin    *int    `json:"port_range_min"`
	PortRangeMax    *int    `json:"port_range_max"`
	RemoteIPPrefix  *string `json:"remote_ip_prefix"`
	RemoteGroupID   *string `json:"remote_group_id"`
	Description     string  `json:"description"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	RevisionNumber  int     `json:"revision_number"`
}

func securityGroupArgs(req *securityGroupRequest) neutron.SecurityGroupArgs {
	tenant, _ := lo.Coalesce(req.TenantID, req.ProjectID)
	return neutron.SecurityGroupArgs{
		Name:        req.Name,
		Description: req.Description,
		TenantID:    tenant,
	}
}

// RenderSecurityGroup builds the REST form of sg.
func (m *Mapper) RenderSecurityGroup(sg *neutron.SecurityGroup) interface{} {
	ext := sg.PG.ExternalIDs
	tenant := lo.Ternary(ext[neutron.SGTenantKey] != "", ext[neutron.SGTenantKey], m.tenantID)
	revision, _ := strconv.Atoi(ext[neutron.SGRevisionKey])
	return &SecurityGroupResponse{
		ID:             sg.PG.UUID,
		Name:           ext[neutron.SGNameKey],
		Description:    ext[neutron.SGDescriptionKey],
		TenantID:       tenant,
		ProjectID:      tenant,
		CreatedAt:      ext[neutron.SGCreatedAtKey],
		UpdatedAt:      ext[neutron.SGUpdatedAtKey],
		RevisionNumber: revision,
		Tags:           []string{},
		Rules: lo.Map(sg.Rules, func(rule *neutron.SecurityGroupRule, _ int) *SecurityGroupRuleResponse {
			return m.renderRule(rule)
		}),
	}
}

func (m *Mapper) renderRule(rule *neutron.SecurityGroupRule) *SecurityGroupRuleResponse {
	ext := rule.ACL.ExternalIDs
	optionalString := func(key string) *string {
		if v, ok := ext[key]; ok && v != "" {
			return &v
		}
		return nil
	}
	optionalInt := func(key string) *int {
		if v, err := strconv.Atoi(ext[key]); err == nil {
			return &v
		}
		return nil
	}
	direction := neutron.DirectionEgress
	if rule.ACL.Direction == ovndb.ACLDirectionToLport {
		direction = neutron.DirectionIngress
	}
	return &SecurityGroupRuleResponse{
		ID:              rule.ACL.UUID,
		SecurityGroupID: rule.SecurityGroupID,
		TenantID:        m.tenantID,
		ProjectID:       m.tenantID,
		Direction:       direction,
		Ethertype:       ext[neutron.RuleEthertypeKey],
		Protocol:        optionalString(neutron.RuleProtocolKey),
		PortRangeMin:    optionalInt(neutron.RuleMinPortKey),
		PortRangeMax:    optionalInt(neutron.RuleMaxPortKey),
		RemoteIPPrefix:  optionalString(neutron.RuleIPPrefixKey),
		RemoteGroupID:   optionalString(neutron.RuleRemoteGroupKey),
		Description:     ext[neutron.RuleDescriptionKey],
	}
}

// RenderSecurityGroupRule builds the REST form of rule.
func (m *Mapper) RenderSecurityGroupRule(rule *neutron.SecurityGroupRule) interface{} {
	return m.renderRule(rule)
}

// ListSecurityGroups serves GET security-groups.
func (m *Mapper) ListSecurityGroups(ctx context.Context) (interface{}, error) {
	groups, err := m.api.ListSecurityGroups(ctx)
	return List(SecurityGroupsKey, groups, err, m.RenderSecurityGroup)
}

// GetSecurityGroup serves GET security-groups/{id}.
func (m *Mapper) GetSecurityGroup(ctx context.Context, id string) (interface{}, error) {
	sg, err := m.api.GetSecurityGroup(ctx, id)
	return One(SecurityGroupKey, sg, err, m.RenderSecurityGroup)
}

// AddSecurityGroup serves POST security-groups.
func (m *Mapper) AddSecurityGroup(ctx context.Context, body []byte) (interface{}, error) {
	return Run(Operation[securityGroupRequest, *neutron.SecurityGroup]{
		Key:  SecurityGroupKey,
		Keys: addSecurityGroupKeys,
		Call: func(req *securityGroupRequest, _ Fields) (*neutron.SecurityGroup, error) {
			return m.api.AddSecurityGroup(ctx, securityGroupArgs(req))
		},
		Render: m.RenderSecurityGroup,
	}, body)
}

// UpdateSecurityGroup serves PUT security-groups/{id}.
func (m *Mapper) UpdateSecurityGroup(ctx context.Context, id string, body []byte) (interface{}, error) {
	return Run(Operation[securityGroupRequest, *neutron.SecurityGroup]{
		Key:  SecurityGroupKey,
		Keys: updateSecurityGroupKeys,
		Call: func(req *securityGroupRequest, _ Fields) (*neutron.SecurityGroup, error) {
			return m.api.UpdateSecurityGroup(ctx, id, securityGroupArgs(req))
		},
		Render: m.RenderSecurityGroup,
	}, body)
}

// DeleteSecurityGroup serves DELETE security-groups/{id}.
func (m *Mapper) DeleteSecurityGroup(ctx context.Context, id string) error {
	return m.api.DeleteSecurityGroup(ctx, id)
}

// protocolValue accepts a protocol given as a name or as a number.
type protocolValue string

func (p *protocolValue) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = protocolValue(name)
		return nil
	}
	var number int
	if err := json.Unmarshal(data, &number); err != nil {
		return errInvalidInput("protocol", "%s is neither a protocol name nor a number", data)
	}
	*p = protocolValue(strconv.Itoa(number))
	return nil
}

type securityGroupRuleRequest struct {
	SecurityGroupID string         `json:"security_group_id"`
	Direction       string         `json:"direction"`
	Ethertype       *string        `json:"ethertype"`
	Protocol        *protocolValue `json:"protocol"`
	PortRangeMin    *int           `json:"port_range_min"`
	PortRangeMax    *int           `json:"port_range_max"`
	RemoteIPPrefix  *string        `json:"remote_ip_prefix"`
	RemoteGroupID   *string        `json:"remote_group_id"`
	Description     *string        `json:"description"`
}

var addSecurityGroupRuleKeys = Keys{
	Mandatory: []string{"security_group_id", "direction"},
	Optional: optional([]string{
		"ethertype", "protocol", "port_range_min", "port_range_max",
		"remote_ip_prefix", "remote_group_id", "description",
	}, tenantKeys),
}

func validateSecurityGroupRule(req *securityGroupRuleRequest) error {
	if req.Direction != neutron.DirectionIngress && req.Direction != neutron.DirectionEgress {
		return errInvalidInput("direction", "'%s' is not one of %s, %s", req.Direction, neutron.DirectionIngress, neutron.DirectionEgress)
	}
	ethertype := lo.FromPtr(req.Ethertype)
	if ethertype == "" {
		ethertype = neutron.EthertypeIPv4
		req.Ethertype = &ethertype
	}
	if ethertype != neutron.EthertypeIPv4 && ethertype != neutron.EthertypeIPv6 {
		return errInvalidInput("ethertype", "'%s' is not one of %s, %s", ethertype, neutron.EthertypeIPv4, neutron.EthertypeIPv6)
	}
	prefix, remote := lo.FromPtr(req.RemoteIPPrefix), lo.FromPtr(req.RemoteGroupID)
	if prefix != "" && remote != "" {
		return errInvalidInput("remote_ip_prefix", "only one of remote_ip_prefix and remote_group_id may be given")
	}
	if prefix != "" {
		_, cidr, err := net.ParseCIDR(prefix)
		if err != nil {
			return errInvalidInput("remote_ip_prefix", "'%s' is not a valid CIDR", prefix)
		}
		if utilnet.IsIPv6CIDR(cidr) != (ethertype == neutron.EthertypeIPv6) {
			return errInvalidInput("remote_ip_prefix", "'%s' does not match ethertype %s", prefix, ethertype)
		}
	}
	for field, port := range map[string]*int{"port_range_min": req.PortRangeMin, "port_range_max": req.PortRangeMax} {
		if port != nil && (*port < 0 || *port > 65535) {
			return errInvalidInput(field, "%d is out of range", *port)
		}
	}
	return nil
}

func securityGroupRuleArgs(req *securityGroupRuleRequest) neutron.SecurityGroupRuleArgs {
	var protocol *string
	if req.Protocol != nil {
		protocol = lo.ToPtr(string(*req.Protocol))
	}
	return neutron.SecurityGroupRuleArgs{
		SecurityGroupID: req.SecurityGroupID,
		Direction:       req.Direction,
		Ethertype:       lo.FromPtr(req.Ethertype),
		Protocol:        protocol,
		PortRangeMin:    req.PortRangeMin,
		PortRangeMax:    req.PortRangeMax,
		RemoteIPPrefix:  req.RemoteIPPrefix,
		RemoteGroupID:   req.RemoteGroupID,
		Description:     req.Description,
	}
}

// ListSecurityGroupRules serves GET security-group-rules.
func (m *Mapper) ListSecurityGroupRules(ctx context.Context) (interface{}, error) {
	rules, err := m.api.ListSecurityGroupRules(ctx)
	return List(SecurityGroupRulesKey, rules, err, m.RenderSecurityGroupRule)
}

// GetSecurityGroupRule serves GET security-group-rules/{id}.
func (m *Mapper) GetSecurityGroupRule(ctx context.Context, id string) (interface{}, error) {
	rule, err := m.api.GetSecurityGroupRule(ctx, id)
	return One(SecurityGroupRuleKey, rule, err, m.RenderSecurityGroupRule)
}

// AddSecurityGroupRule serves POST security-group-rules.
func (m *Mapper) AddSecurityGroupRule(ctx context.Context, body []byte) (interface{}, error) {
	return Run(Operation[securityGroupRuleRequest, *neutron.SecurityGroupRule]{
		Key:  SecurityGroupRuleKey,
		Keys: addSecurityGroupRuleKeys,
		Validate: func(req *securityGroupRuleRequest, _ Fields) error {
			return validateSecurityGroupRule(req)
		},
		Call: func(req *securityGroupRuleRequest, _ Fields) (*neutron.SecurityGroupRule, error) {
			return m.api.AddSecurityGroupRule(ctx, securityGroupRuleArgs(req))
		},
		Render: m.RenderSecurityGroupRule,
	}, body)
}

// DeleteSecurityGroupRule serves DELETE security-group-rules/{id}.
func (m *Mapper) DeleteSecurityGroupRule(ctx context.Context, id string) error {
	return m.api.DeleteSecurityGroupRule(ctx, id)
}
