// Package auth provides the token plugins guarding the Networking API and
// backing the Keystone token endpoint.
//
// A Plugin creates tokens from user credentials and validates tokens
// presented in X-Auth-Token. The Authenticator wraps the configured plugin
// with a cache of validated tokens and records validation metrics.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
)

// Plugin names accepted in [AUTH] auth-plugin. The part after the colon is
// enough to select a plugin.
const (
	PluginNoAuth         = "auth.plugins.static_token:NoAuthPlugin"
	PluginMagicToken     = "auth.plugins.static_token:MagicTokenPlugin"
	PluginOVirtUserName  = "auth.plugins.ovirt:AuthorizationByUserName"
	PluginOVirtGroupName = "auth.plugins.ovirt:AuthorizationByGroup"
)

// Plugin issues and checks tokens.
type Plugin interface {
	// Name returns the configured name of the plugin.
	Name() string
	// CreateToken exchanges credentials for a token.
	CreateToken(ctx context.Context, username, password string) (string, error)
	// ValidateToken reports whether token grants access to the API.
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// NewPlugin builds the plugin selected by cfg.Auth.Plugin.
func NewPlugin(cfg *config.Config) (Plugin, error) {
	name := cfg.Auth.Plugin
	short := name[strings.LastIndex(name, ":")+1:]
	for _, full := range []string{PluginNoAuth, PluginMagicToken, PluginOVirtUserName, PluginOVirtGroupName} {
		if name != full && short != full[strings.LastIndex(full, ":")+1:] {
			continue
		}
		switch full {
		case PluginNoAuth:
			return NewNoAuth(), nil
		case PluginMagicToken:
			return NewMagicToken(cfg.Auth.MagicToken), nil
		case PluginOVirtUserName:
			return NewOVirtUserName(&cfg.OVirt)
		case PluginOVirtGroupName:
			return NewOVirtGroup(&cfg.OVirt)
		}
	}
	return nil, fmt.Errorf("unknown auth plugin %q", name)
}

// Authenticator caches the tokens its plugin has accepted.
type Authenticator struct {
	plugin Plugin
	tokens *cache.Cache
	log    *logging.Logger
}

// NewAuthenticator wraps plugin. Accepted tokens are trusted for ttl
// without asking the plugin again.
func NewAuthenticator(plugin Plugin, ttl time.Duration) *Authenticator {
	return &Authenticator{
		plugin: plugin,
		tokens: cache.New(ttl, 10*time.Minute),
		log:    logging.LoggerForAuth(plugin.Name()),
	}
}

// Plugin returns the wrapped plugin.
func (a *Authenticator) Plugin() Plugin {
	return a.plugin
}

// CreateToken asks the plugin for a token. The new token is considered
// validated.
func (a *Authenticator) CreateToken(ctx context.Context, username, password string) (string, error) {
	token, err := a.plugin.CreateToken(ctx, username, password)
	if err != nil {
		a.log.Info("token creation failed", "user", username, "error", err.Error())
		return "", err
	}
	return token, nil
}

// ValidateToken returns nil when token may access the API. A missing or
// rejected token is Forbidden; plugin failures keep their own kind.
func (a *Authenticator) ValidateToken(ctx context.Context, token string) error {
	name := a.plugin.Name()
	if token == "" {
		metrics.RecordTokenValidation(name, metrics.ResultFailure)
		return apierr.New(apierr.Forbidden, "No token in request")
	}
	if _, ok := a.tokens.Get(token); ok {
		metrics.RecordTokenValidation(name, metrics.ResultCached)
		return nil
	}
	valid, err := a.plugin.ValidateToken(ctx, token)
	if err != nil {
		metrics.RecordTokenValidation(name, metrics.ResultFailure)
		a.log.V(1).Info("token validation failed", "error", err.Error())
		return err
	}
	if !valid {
		metrics.RecordTokenValidation(name, metrics.ResultFailure)
		return apierr.New(apierr.Forbidden, "Token validation failed")
	}
	metrics.RecordTokenValidation(name, metrics.ResultSuccess)
	a.tokens.SetDefault(token, struct{}{})
	return nil
}
