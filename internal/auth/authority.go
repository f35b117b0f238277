package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenReused        = errors.New("refresh token reused")
	ErrKeyRevoked         = errors.New("api key revoked")
	ErrInactiveUser       = errors.New("user inactive")
)

// Authority mints and verifies the gateway's credentials: short-lived signed
// access tokens and long-lived rotating refresh chains. Access tokens are
// self-contained: verification is a pure signature and expiry check with no
// store read, so it cannot fail on store unavailability. Refresh tokens are
// store-backed; each rotation consumes the presented link and issues its
// successor, and replay of a consumed link revokes the whole chain.
type Authority struct {
	store      *store.Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewAuthority creates an Authority signing access tokens with the given
// HMAC secret.
func NewAuthority(st *store.Store, secret string, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *Authority {
	return &Authority{
		store:      st,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// AccessTTL returns the configured access token lifetime.
func (a *Authority) AccessTTL() time.Duration {
	return a.accessTTL
}

// AccessClaims are the JWT claims carried by an access token. Scopes are
// fixed at mint time and not re-checked against the store per request.
type AccessClaims struct {
	UserID int64           `json:"uid"`
	Scopes model.StringSet `json:"scopes"`
	jwt.RegisteredClaims
}

// Issue mints an access token and starts a fresh refresh chain for the user.
// The chain head is persisted; the raw refresh token is returned once and
// only its hash is stored.
func (a *Authority) Issue(ctx context.Context, user *model.User) (*model.TokenPair, error) {
	access, err := a.mintAccess(user.ID, user.Username, user.Scopes)
	if err != nil {
		return nil, err
	}

	raw, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	head := &model.RefreshToken{
		ChainID:   uuid.NewString(),
		Seq:       0,
		TokenHash: store.HashSecret(raw),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(a.refreshTTL),
	}
	if err := a.store.CreateRefreshToken(ctx, head); err != nil {
		return nil, fmt.Errorf("persist refresh chain head: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "bearer",
		ExpiresIn:    int(a.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess checks an access token's signature and expiry. It never
// touches the store. An expired token with a valid signature fails with
// ErrTokenExpired; anything else fails with ErrTokenInvalid.
func (a *Authority) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Rotate consumes a refresh token and returns a new access token plus the
// next link of the chain. Presenting an already-consumed link is treated as
// replay: the entire chain is revoked and the call fails with ErrTokenReused.
// A revoked or expired link fails with ErrTokenRevoked / ErrTokenExpired.
func (a *Authority) Rotate(ctx context.Context, rawRefresh string) (*model.TokenPair, error) {
	link, err := a.store.GetRefreshTokenByHash(ctx, store.HashSecret(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}

	switch {
	case link.Revoked:
		return nil, ErrTokenRevoked
	case link.Consumed:
		// Replay of a consumed link. Someone is holding a stale copy of
		// this chain, so the whole lineage is burned.
		a.logger.Warn("refresh token reuse detected, revoking chain",
			"chain_id", link.ChainID, "seq", link.Seq, "user_id", link.UserID)
		if err := a.store.RevokeRefreshChain(ctx, link.ChainID); err != nil {
			return nil, fmt.Errorf("revoke chain after reuse: %w", err)
		}
		return nil, ErrTokenReused
	case link.Expired(time.Now().UTC()):
		return nil, ErrTokenExpired
	}

	user, err := a.store.GetUser(ctx, link.UserID)
	if err != nil {
		return nil, fmt.Errorf("look up refresh token owner: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	raw, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}
	next := &model.RefreshToken{
		ChainID:   link.ChainID,
		Seq:       link.Seq + 1,
		TokenHash: store.HashSecret(raw),
		UserID:    link.UserID,
		ExpiresAt: time.Now().UTC().Add(a.refreshTTL),
	}

	if err := a.store.RotateRefreshToken(ctx, link.ID, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A concurrent writer consumed this link between our read and
			// the compare-and-swap. From this caller's perspective the link
			// was already spent, which is the replay condition.
			a.logger.Warn("refresh token lost consume race, revoking chain",
				"chain_id", link.ChainID, "seq", link.Seq, "user_id", link.UserID)
			if revErr := a.store.RevokeRefreshChain(ctx, link.ChainID); revErr != nil {
				return nil, fmt.Errorf("revoke chain after conflict: %w", revErr)
			}
			return nil, ErrTokenReused
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, err := a.mintAccess(user.ID, user.Username, user.Scopes)
	if err != nil {
		return nil, err
	}

	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "bearer",
		ExpiresIn:    int(a.accessTTL.Seconds()),
	}, nil
}

// RevokeChain revokes every link of a refresh chain, forcing the holder to
// re-authenticate. Outstanding access tokens remain honored until their own
// short TTL lapses.
func (a *Authority) RevokeChain(ctx context.Context, chainID string) error {
	return a.store.RevokeRefreshChain(ctx, chainID)
}

// RevokeByToken resolves a raw refresh token to its chain and revokes the
// whole chain. Used by logout.
func (a *Authority) RevokeByToken(ctx context.Context, rawRefresh string) error {
	link, err := a.store.GetRefreshTokenByHash(ctx, store.HashSecret(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("look up refresh token: %w", err)
	}
	return a.store.RevokeRefreshChain(ctx, link.ChainID)
}

func (a *Authority) mintAccess(userID int64, username string, scopes model.StringSet) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
			Issuer:    "spigot",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func newRefreshSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
