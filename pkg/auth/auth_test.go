package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
)

func TestNewPlugin(t *testing.T) {
	tests := []struct {
		name    string
		plugin  string
		want    string
		wantErr bool
	}{
		{name: "default", plugin: PluginNoAuth, want: PluginNoAuth},
		{name: "short name", plugin: "MagicTokenPlugin", want: PluginMagicToken},
		{name: "user name", plugin: PluginOVirtUserName, want: PluginOVirtUserName},
		{name: "unknown", plugin: "auth.plugins.static_token:Nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Auth.Plugin = tt.plugin
			cfg.OVirt.Host = "https://engine.example.com"
			p, err := NewPlugin(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestMagicToken(t *testing.T) {
	ctx := context.Background()
	p := NewMagicToken("00000000000000000000000000000001")

	token, err := p.CreateToken(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000000000000000001", token)

	ok, err := p.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ValidateToken(ctx, "00000000000000000000000000000002")
	require.NoError(t, err)
	assert.False(t, ok)
}

// countingPlugin accepts one token and counts validations.
type countingPlugin struct {
	valid string
	calls atomic.Int32
}

func (p *countingPlugin) Name() string { return "counting" }

func (p *countingPlugin) CreateToken(context.Context, string, string) (string, error) {
	return p.valid, nil
}

func (p *countingPlugin) ValidateToken(_ context.Context, token string) (bool, error) {
	p.calls.Add(1)
	return token == p.valid, nil
}

func TestAuthenticatorCachesAcceptedTokens(t *testing.T) {
	ctx := context.Background()
	plugin := &countingPlugin{valid: "good"}
	a := NewAuthenticator(plugin, time.Hour)

	require.NoError(t, a.ValidateToken(ctx, "good"))
	require.NoError(t, a.ValidateToken(ctx, "good"))
	assert.Equal(t, int32(1), plugin.calls.Load())

	err := a.ValidateToken(ctx, "bad")
	assert.True(t, apierr.Is(err, apierr.Forbidden))
	err = a.ValidateToken(ctx, "bad")
	assert.True(t, apierr.Is(err, apierr.Forbidden))
	assert.Equal(t, int32(3), plugin.calls.Load())

	err = a.ValidateToken(ctx, "")
	assert.True(t, apierr.Is(err, apierr.Forbidden))
	assert.Equal(t, int32(3), plugin.calls.Load())
}

// fakeSSO serves the engine SSO endpoints.
type fakeSSO struct {
	users     map[string]string
	tokenInfo map[string]tokenInfo
	status    int
}

func (f *fakeSSO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/ovirt-engine" + ssoTokenPath:
		user, password := r.PostForm.Get("username"), r.PostForm.Get("password")
		if pw, ok := f.users[user]; !ok || pw != password || r.PostForm.Get("grant_type") != "password" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(tokenResponse{Error: "access_denied", ErrorDescription: "Cannot authenticate user"})
			return
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "token-" + user})
	case "/ovirt-engine" + ssoTokenInfoPath:
		if id, secret, ok := r.BasicAuth(); !ok || id != "ovirt-provider-ovn" || secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(tokenInfo{Error: "invalid_client"})
			return
		}
		info, ok := f.tokenInfo[r.PostForm.Get("token")]
		if !ok {
			_ = json.NewEncoder(w).Encode(tokenInfo{Active: false})
			return
		}
		_ = json.NewEncoder(w).Encode(info)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeSSO(t *testing.T) (*fakeSSO, *config.Config) {
	t.Helper()
	group := tokenInfo{Active: true, UserID: "netadmin@internal"}
	group.OVirt.GroupIDs = []string{"g1", "g2"}
	group.OVirt.GroupRecords = map[string]map[string]string{
		"g1": {"AAA_AUTHZ_GROUP_NAME": "Everyone"},
		"g2": {"AAA_AUTHZ_GROUP_NAME": "NetAdmin"},
	}
	sso := &fakeSSO{
		users: map[string]string{"admin@internal": "pw", "user@internal": "pw"},
		tokenInfo: map[string]tokenInfo{
			"token-admin@internal": {Active: true, UserID: "admin@internal"},
			"token-user@internal":  {Active: true, UserID: "user@internal"},
			"token-group":          group,
		},
	}
	srv := httptest.NewServer(sso)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.OVirt.Host = srv.URL
	cfg.OVirt.Base = "/ovirt-engine"
	cfg.OVirt.ClientID = "ovirt-provider-ovn"
	cfg.OVirt.ClientSecret = "s3cret"
	cfg.OVirt.AdminUserName = "admin@internal"
	cfg.OVirt.AdminGroupAttributeName = "AAA_AUTHZ_GROUP_NAME"
	cfg.OVirt.AdminGroupAttributeValue = "NetAdmin"
	cfg.OVirt.Timeout = 5
	return sso, cfg
}

func TestOVirtUserName(t *testing.T) {
	ctx := context.Background()
	_, cfg := newFakeSSO(t)
	p, err := NewOVirtUserName(&cfg.OVirt)
	require.NoError(t, err)

	token, err := p.CreateToken(ctx, "admin@internal", "pw")
	require.NoError(t, err)
	assert.Equal(t, "token-admin@internal", token)

	_, err = p.CreateToken(ctx, "admin@internal", "wrong")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.Unauthorized))
	assert.Equal(t, "Cannot authenticate user", err.Error())

	ok, err := p.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ValidateToken(ctx, "token-user@internal")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.ValidateToken(ctx, "expired")
	assert.True(t, apierr.Is(err, apierr.Unauthorized))
}

func TestOVirtGroup(t *testing.T) {
	ctx := context.Background()
	_, cfg := newFakeSSO(t)
	p, err := NewOVirtGroup(&cfg.OVirt)
	require.NoError(t, err)

	ok, err := p.ValidateToken(ctx, "token-group")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ValidateToken(ctx, "token-admin@internal")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg.OVirt.AdminGroupAttributeValue = ""
	_, err = NewOVirtGroup(&cfg.OVirt)
	assert.Error(t, err)
}

func TestOVirtBackendErrors(t *testing.T) {
	ctx := context.Background()
	sso, cfg := newFakeSSO(t)
	p, err := NewOVirtUserName(&cfg.OVirt)
	require.NoError(t, err)

	sso.status = http.StatusServiceUnavailable
	_, err = p.ValidateToken(ctx, "token-admin@internal")
	assert.True(t, apierr.Is(err, apierr.BadGateway), "got %v", err)

	cfg.OVirt.ClientSecret = "wrong"
	sso.status = 0
	p, err = NewOVirtUserName(&cfg.OVirt)
	require.NoError(t, err)
	_, err = p.ValidateToken(ctx, "token-admin@internal")
	assert.True(t, apierr.Is(err, apierr.Unauthorized), "got %v", err)

	ctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err = p.ValidateToken(ctx, "token-admin@internal")
	assert.True(t, apierr.Is(err, apierr.Timeout), "got %v", err)
}
