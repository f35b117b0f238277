package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

const testSecret = "test-secret-for-auth-tests"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestAuthority(t *testing.T, st *store.Store, accessTTL time.Duration) *Authority {
	t.Helper()
	return NewAuthority(st, testSecret, accessTTL, 24*time.Hour, testLogger())
}

func seedUser(t *testing.T, st *store.Store, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "irrelevant",
		IsActive:     true,
		Scopes:       model.StringSet{model.ScopeUser},
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return user
}

// ---------------------------------------------------------------------------
// Access token verification
// ---------------------------------------------------------------------------

func TestIssueAndVerifyAccess(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	user := seedUser(t, st, "alice")

	pair, err := a.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be set")
	}
	if pair.TokenType != "bearer" {
		t.Errorf("token type = %q, want bearer", pair.TokenType)
	}

	claims, err := a.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("claims user id = %d, want %d", claims.UserID, user.ID)
	}
	if claims.Subject != "alice" {
		t.Errorf("claims subject = %q, want alice", claims.Subject)
	}
}

func TestVerifyAccessExpired(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, -time.Minute) // already expired at mint
	user := seedUser(t, st, "alice")

	pair, err := a.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := a.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("VerifyAccess = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyAccessWrongSecret(t *testing.T) {
	st := newTestStore(t)
	user := seedUser(t, st, "alice")

	other := NewAuthority(st, "a-different-secret", 30*time.Minute, 24*time.Hour, testLogger())
	pair, err := other.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	a := newTestAuthority(t, st, 30*time.Minute)
	if _, err := a.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("VerifyAccess = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyAccessGarbage(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)

	if _, err := a.VerifyAccess("not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("VerifyAccess = %v, want ErrTokenInvalid", err)
	}
}

// ---------------------------------------------------------------------------
// Refresh rotation
// ---------------------------------------------------------------------------

func TestRotateAdvancesChain(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	pair0, err := a.Issue(ctx, user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	pair1, err := a.Rotate(ctx, pair0.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if pair1.RefreshToken == pair0.RefreshToken {
		t.Error("rotation returned the same refresh token")
	}
	if _, err := a.VerifyAccess(pair1.AccessToken); err != nil {
		t.Errorf("new access token does not verify: %v", err)
	}

	// The old access token stays valid until its own expiry.
	if _, err := a.VerifyAccess(pair0.AccessToken); err != nil {
		t.Errorf("old access token should still verify: %v", err)
	}

	// Both links belong to one chain with increasing seq.
	link, err := st.GetRefreshTokenByHash(ctx, store.HashSecret(pair1.RefreshToken))
	if err != nil {
		t.Fatalf("GetRefreshTokenByHash: %v", err)
	}
	if link.Seq != 1 {
		t.Errorf("successor seq = %d, want 1", link.Seq)
	}
	chain, err := st.ListRefreshChain(ctx, link.ChainID)
	if err != nil {
		t.Fatalf("ListRefreshChain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if !chain[0].Consumed || chain[1].Consumed {
		t.Errorf("consumed flags = %v/%v, want true/false", chain[0].Consumed, chain[1].Consumed)
	}
}

func TestRotateReuseRevokesChain(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	pair0, err := a.Issue(ctx, user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	pair1, err := a.Rotate(ctx, pair0.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Presenting the consumed head again is replay.
	if _, err := a.Rotate(ctx, pair0.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("replay Rotate = %v, want ErrTokenReused", err)
	}

	// The replay burned the whole chain, including the fresh tail.
	if _, err := a.Rotate(ctx, pair1.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("post-replay Rotate = %v, want ErrTokenRevoked", err)
	}
}

func TestRotateUnknownToken(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)

	if _, err := a.Rotate(context.Background(), "never-issued"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Rotate = %v, want ErrTokenInvalid", err)
	}
}

func TestRotateInactiveUser(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	pair, err := a.Issue(ctx, user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	user.IsActive = false
	if err := st.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	if _, err := a.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrInactiveUser) {
		t.Fatalf("Rotate = %v, want ErrInactiveUser", err)
	}
}

func TestRevokeByToken(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	pair, err := a.Issue(ctx, user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := a.RevokeByToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeByToken: %v", err)
	}
	if _, err := a.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("Rotate after logout = %v, want ErrTokenRevoked", err)
	}
}
