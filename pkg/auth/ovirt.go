package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
)

// SSO endpoints relative to the engine context path
const (
	ssoTokenPath     = "/sso/oauth/token"
	ssoTokenInfoPath = "/sso/oauth/token-info"
	ssoScope         = "ovirt-app-api ovirt-ext=token-info:validate ovirt-ext=token-info:public-authz-search"
)

// tokenResponse is the body of the SSO token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// tokenInfo is the body of the SSO token-info endpoint.
type tokenInfo struct {
	Active           bool   `json:"active"`
	UserID           string `json:"user_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	OVirt            struct {
		GroupIDs []string `json:"group_ids"`
		// GroupRecords maps a group id to the attributes of the group.
		GroupRecords map[string]map[string]string `json:"group_records"`
	} `json:"ovirt"`
}

// ssoClient talks to the oVirt engine single sign-on service.
type ssoClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
}

func newSSOClient(cfg *config.OVirtConfig) (*ssoClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ovirt-host is required by the oVirt auth plugins")
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile := cfg.CAFile; caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine CA %s: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	return &ssoClient{
		baseURL:      strings.TrimRight(cfg.Host, "/") + "/" + strings.Trim(cfg.Base, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http: &http.Client{
			Timeout:   time.Duration(cfg.Timeout) * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
		},
	}, nil
}

// post sends form to path and decodes the JSON answer into out. SSO
// reports credential errors with a 4xx status and an error body, those are
// decoded too.
func (c *ssoClient) post(ctx context.Context, path string, form url.Values, basicAuth bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basicAuth {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return apierr.Wrap(apierr.Timeout, err, "Timeout while contacting the engine SSO service")
		}
		return apierr.Wrap(apierr.BadGateway, err, "Unable to contact the engine SSO service: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apierr.Wrap(apierr.BadGateway, err, "Unable to read the engine SSO response")
	}
	if resp.StatusCode >= http.StatusInternalServerError || (resp.StatusCode >= 300 && len(body) == 0) {
		return apierr.New(apierr.BadGateway, "Engine SSO service returned %s", resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierr.Wrap(apierr.BadGateway, err, "Engine SSO service returned an invalid response (%s)", resp.Status)
	}
	return nil
}

func (c *ssoClient) createToken(ctx context.Context, username, password string) (string, error) {
	var resp tokenResponse
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"scope":      {ssoScope},
	}
	if err := c.post(ctx, ssoTokenPath, form, false, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" || resp.AccessToken == "" {
		msg, _ := lo.Coalesce(resp.ErrorDescription, resp.Error, "no token issued")
		return "", apierr.New(apierr.Unauthorized, "%s", msg)
	}
	return resp.AccessToken, nil
}

func (c *ssoClient) tokenInfo(ctx context.Context, token string) (*tokenInfo, error) {
	var info tokenInfo
	form := url.Values{"token": {token}, "scope": {ssoScope}}
	if err := c.post(ctx, ssoTokenInfoPath, form, true, &info); err != nil {
		return nil, err
	}
	if info.Error != "" {
		return nil, apierr.New(apierr.Unauthorized, "%s", lo.Ternary(info.ErrorDescription != "", info.ErrorDescription, info.Error))
	}
	if !info.Active {
		return nil, apierr.New(apierr.Unauthorized, "Token is not active")
	}
	return &info, nil
}

// OVirtUserName accepts tokens of one engine user.
type OVirtUserName struct {
	sso   *ssoClient
	admin string
}

// NewOVirtUserName creates the user name plugin.
func NewOVirtUserName(cfg *config.OVirtConfig) (*OVirtUserName, error) {
	sso, err := newSSOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OVirtUserName{sso: sso, admin: cfg.AdminUserName}, nil
}

func (p *OVirtUserName) Name() string { return PluginOVirtUserName }

func (p *OVirtUserName) CreateToken(ctx context.Context, username, password string) (string, error) {
	return p.sso.createToken(ctx, username, password)
}

func (p *OVirtUserName) ValidateToken(ctx context.Context, token string) (bool, error) {
	info, err := p.sso.tokenInfo(ctx, token)
	if err != nil {
		return false, err
	}
	return info.UserID == p.admin, nil
}

// OVirtGroup accepts tokens of users in a group carrying a configured
// attribute value.
type OVirtGroup struct {
	sso            *ssoClient
	attributeName  string
	attributeValue string
}

// NewOVirtGroup creates the group plugin.
func NewOVirtGroup(cfg *config.OVirtConfig) (*OVirtGroup, error) {
	if cfg.AdminGroupAttributeName == "" || cfg.AdminGroupAttributeValue == "" {
		return nil, fmt.Errorf("ovirt-admin-group-attribute-name and ovirt-admin-group-attribute-value are required by %s", PluginOVirtGroupName)
	}
	sso, err := newSSOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OVirtGroup{
		sso:            sso,
		attributeName:  cfg.AdminGroupAttributeName,
		attributeValue: cfg.AdminGroupAttributeValue,
	}, nil
}

func (p *OVirtGroup) Name() string { return PluginOVirtGroupName }

func (p *OVirtGroup) CreateToken(ctx context.Context, username, password string) (string, error) {
	return p.sso.createToken(ctx, username, password)
}

func (p *OVirtGroup) ValidateToken(ctx context.Context, token string) (bool, error) {
	info, err := p.sso.tokenInfo(ctx, token)
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(info.OVirt.GroupIDs, func(id string) bool {
		return info.OVirt.GroupRecords[id][p.attributeName] == p.attributeValue
	}), nil
}
