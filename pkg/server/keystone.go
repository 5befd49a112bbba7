package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jiayi-1994/ovn-provider/pkg/auth"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/mapper"
	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
)

type tokenRequest struct {
	PasswordCredentials json.RawMessage `json:"passwordCredentials"`
	TenantName          string          `json:"tenantName"`
	TenantID            string          `json:"tenantId"`
}

type passwordCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

var (
	tokenKeys       = mapper.Keys{Mandatory: []string{"passwordCredentials"}, Optional: []string{"tenantName", "tenantId"}}
	credentialsKeys = mapper.Keys{Mandatory: []string{"username", "password"}}
)

// Endpoint is a service catalog endpoint.
type Endpoint struct {
	ID          string `json:"id"`
	Region      string `json:"region"`
	AdminURL    string `json:"adminURL"`
	InternalURL string `json:"internalURL"`
	PublicURL   string `json:"publicURL"`
}

// CatalogEntry is a service of the service catalog.
type CatalogEntry struct {
	Type           string     `json:"type"`
	Name           string     `json:"name"`
	Endpoints      []Endpoint `json:"endpoints"`
	EndpointsLinks []string   `json:"endpoints_links"`
}

// Tenant is the single tenant served by the provider.
type Tenant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type keystone struct {
	cfg   *config.Config
	auth  *auth.Authenticator
	clock func() time.Time
}

// NewKeystoneAPI builds the token API. It needs no token itself.
func NewKeystoneAPI(cfg *config.Config, authenticator *auth.Authenticator) *API {
	k := &keystone{cfg: cfg, auth: authenticator, clock: time.Now}
	a := newAPI(metrics.APIKeystone, nil, nil)
	a.Handle(http.MethodPost, "tokens", k.createToken)
	a.Handle(http.MethodGet, "", k.version)
	a.Handle(http.MethodGet, "tenants", k.tenants)
	return a
}

func (k *keystone) tenant() Tenant {
	return Tenant{
		ID:          k.cfg.Provider.TenantID,
		Name:        k.cfg.Provider.TenantName,
		Description: k.cfg.Provider.TenantDescription,
		Enabled:     true,
	}
}

func (k *keystone) catalog() []CatalogEntry {
	endpoint := func(id, url string) []Endpoint {
		return []Endpoint{{ID: id, Region: k.cfg.Provider.Region, AdminURL: url, InternalURL: url, PublicURL: url}}
	}
	return []CatalogEntry{
		{Type: "network", Name: "neutron", Endpoints: endpoint(k.cfg.Provider.NeutronID, k.cfg.NeutronURL()), EndpointsLinks: []string{}},
		{Type: "identity", Name: "keystone", Endpoints: endpoint(k.cfg.Provider.KeystoneID, k.cfg.KeystoneURL()), EndpointsLinks: []string{}},
	}
}

func (k *keystone) createToken(ctx context.Context, req *Request) (interface{}, error) {
	var body tokenRequest
	if _, err := mapper.Decode(req.Body, "auth", tokenKeys, &body); err != nil {
		return nil, err
	}
	var creds passwordCredentials
	if _, err := mapper.Decode(body.PasswordCredentials, "", credentialsKeys, &creds); err != nil {
		return nil, err
	}

	token, err := k.auth.CreateToken(ctx, creds.Username, creds.Password)
	if err != nil {
		return nil, err
	}
	now := k.clock().UTC()
	expires := now.Add(time.Duration(k.cfg.Auth.TokenTimeout) * time.Second)
	return map[string]interface{}{"access": map[string]interface{}{
		"token": map[string]interface{}{
			"id":        token,
			"issued_at": now.Format(time.RFC3339),
			"expires":   expires.Format(time.RFC3339),
			"tenant":    k.tenant(),
		},
		"user": map[string]interface{}{
			"id":          creds.Username,
			"name":        creds.Username,
			"username":    creds.Username,
			"roles":       []map[string]string{{"name": "admin"}},
			"roles_links": []string{},
		},
		"serviceCatalog": k.catalog(),
		"metadata":       map[string]interface{}{"is_admin": 0, "roles": []string{}},
	}}, nil
}

func (k *keystone) version(context.Context, *Request) (interface{}, error) {
	return map[string]interface{}{"version": map[string]interface{}{
		"id":     APIVersion,
		"status": "stable",
		"links":  []map[string]string{{"rel": "self", "href": k.cfg.KeystoneURL() + "/"}},
	}}, nil
}

func (k *keystone) tenants(context.Context, *Request) (interface{}, error) {
	return map[string]interface{}{
		"tenants":       []Tenant{k.tenant()},
		"tenants_links": []string{},
	}, nil
}
