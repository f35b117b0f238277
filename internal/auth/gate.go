package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

// Credential methods a Principal can be resolved from.
const (
	MethodAccessToken = "access_token"
	MethodAPIKey      = "api_key"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID   int64
	Username string
	Scopes   model.StringSet
	Method   string
}

// IsAdmin reports whether the principal carries the admin scope.
func (p *Principal) IsAdmin() bool {
	for _, s := range p.Scopes {
		if s == model.ScopeAdmin {
			return true
		}
	}
	return false
}

// Gate resolves a raw bearer credential to a Principal. It accepts two
// credential namespaces on the same header: API keys (the "sk-" prefix) are
// checked by hash against the store; anything else is treated as a signed
// access token and verified statelessly.
type Gate struct {
	store     *store.Store
	authority *Authority
}

// NewGate creates a Gate over the given store and authority.
func NewGate(st *store.Store, authority *Authority) *Gate {
	return &Gate{store: st, authority: authority}
}

// APIKeyPrefix marks raw API keys on the Authorization header.
const APIKeyPrefix = "sk-"

// Authenticate resolves rawCredential to a Principal or fails with one of
// the credential errors (ErrTokenInvalid, ErrTokenExpired, ErrKeyRevoked,
// ErrInactiveUser).
func (g *Gate) Authenticate(ctx context.Context, rawCredential string) (*Principal, error) {
	if rawCredential == "" {
		return nil, ErrTokenInvalid
	}
	if strings.HasPrefix(rawCredential, APIKeyPrefix) {
		return g.authenticateAPIKey(ctx, rawCredential)
	}
	return g.authenticateAccessToken(rawCredential)
}

func (g *Gate) authenticateAccessToken(tokenStr string) (*Principal, error) {
	claims, err := g.authority.VerifyAccess(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Principal{
		UserID:   claims.UserID,
		Username: claims.Subject,
		Scopes:   claims.Scopes,
		Method:   MethodAccessToken,
	}, nil
}

func (g *Gate) authenticateAPIKey(ctx context.Context, rawKey string) (*Principal, error) {
	key, err := g.store.GetAPIKeyByHash(ctx, store.HashSecret(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	user, err := g.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("look up api key owner: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	// Update last used timestamp (fire and forget)
	go g.store.UpdateAPIKeyLastUsed(context.WithoutCancel(ctx), key.ID) //nolint:errcheck

	return &Principal{
		UserID:   user.ID,
		Username: user.Username,
		Scopes:   user.Scopes,
		Method:   MethodAPIKey,
	}, nil
}
