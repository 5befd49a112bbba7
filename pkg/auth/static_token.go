package auth

import (
	"context"
	"crypto/subtle"

	"github.com/google/uuid"
)

// NoAuth accepts every token.
type NoAuth struct{}

// NewNoAuth creates the NoAuth plugin.
func NewNoAuth() *NoAuth { return &NoAuth{} }

func (NoAuth) Name() string { return PluginNoAuth }

// CreateToken returns a fresh random token for any credentials.
func (NoAuth) CreateToken(context.Context, string, string) (string, error) {
	return uuid.NewString(), nil
}

func (NoAuth) ValidateToken(context.Context, string) (bool, error) { return true, nil }

// MagicToken hands out and accepts one fixed token.
type MagicToken struct {
	token string
}

// NewMagicToken creates a plugin accepting token.
func NewMagicToken(token string) *MagicToken {
	return &MagicToken{token: token}
}

func (p *MagicToken) Name() string { return PluginMagicToken }

func (p *MagicToken) CreateToken(context.Context, string, string) (string, error) {
	return p.token, nil
}

func (p *MagicToken) ValidateToken(_ context.Context, token string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(token), []byte(p.token)) == 1, nil
}
