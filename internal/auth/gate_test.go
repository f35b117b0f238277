package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

func seedAPIKey(t *testing.T, st *store.Store, userID int64) (raw string, key *model.APIKey) {
	t.Helper()
	raw, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	key = &model.APIKey{
		KeyHash:   store.HashSecret(raw),
		KeyPrefix: APIKeyDisplayPrefix(raw),
		Label:     "test",
		UserID:    userID,
		IsActive:  true,
	}
	if err := st.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return raw, key
}

func TestGateResolvesAPIKey(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	g := NewGate(st, a)
	user := seedUser(t, st, "alice")
	raw, _ := seedAPIKey(t, st, user.ID)

	p, err := g.Authenticate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.UserID != user.ID {
		t.Errorf("principal user id = %d, want %d", p.UserID, user.ID)
	}
	if p.Method != MethodAPIKey {
		t.Errorf("principal method = %q, want %q", p.Method, MethodAPIKey)
	}
}

func TestGateResolvesAccessToken(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	g := NewGate(st, a)
	user := seedUser(t, st, "alice")

	pair, err := a.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	p, err := g.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != MethodAccessToken {
		t.Errorf("principal method = %q, want %q", p.Method, MethodAccessToken)
	}
	if p.Username != "alice" {
		t.Errorf("principal username = %q, want alice", p.Username)
	}
}

func TestGateRejectsRevokedKey(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	g := NewGate(st, a)
	user := seedUser(t, st, "alice")
	raw, key := seedAPIKey(t, st, user.ID)
	ctx := context.Background()

	if err := st.RevokeAPIKey(ctx, key.ID, user.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := g.Authenticate(ctx, raw); !errors.Is(err, ErrKeyRevoked) {
		t.Fatalf("Authenticate = %v, want ErrKeyRevoked", err)
	}
}

func TestGateRejectsExpiredKey(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	g := NewGate(st, a)
	user := seedUser(t, st, "alice")
	ctx := context.Background()

	raw, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	key := &model.APIKey{
		KeyHash:   store.HashSecret(raw),
		KeyPrefix: APIKeyDisplayPrefix(raw),
		UserID:    user.ID,
		IsActive:  true,
		ExpiresAt: &past,
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if _, err := g.Authenticate(ctx, raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Authenticate = %v, want ErrTokenExpired", err)
	}
}

func TestGateRejectsKeyOfInactiveUser(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	g := NewGate(st, a)
	user := seedUser(t, st, "alice")
	raw, _ := seedAPIKey(t, st, user.ID)
	ctx := context.Background()

	user.IsActive = false
	if err := st.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	if _, err := g.Authenticate(ctx, raw); !errors.Is(err, ErrInactiveUser) {
		t.Fatalf("Authenticate = %v, want ErrInactiveUser", err)
	}
}

func TestGateRejectsUnknownCredential(t *testing.T) {
	st := newTestStore(t)
	a := newTestAuthority(t, st, 30*time.Minute)
	g := NewGate(st, a)

	if _, err := g.Authenticate(context.Background(), "sk-000000000000"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Authenticate unknown key = %v, want ErrTokenInvalid", err)
	}
	if _, err := g.Authenticate(context.Background(), ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Authenticate empty = %v, want ErrTokenInvalid", err)
	}
}

func TestNewAPIKeyShape(t *testing.T) {
	raw, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if len(raw) != len(APIKeyPrefix)+48 {
		t.Errorf("key length = %d, want %d", len(raw), len(APIKeyPrefix)+48)
	}
	prefix := APIKeyDisplayPrefix(raw)
	if len(prefix) != len(APIKeyPrefix)+5 {
		t.Errorf("display prefix length = %d, want %d", len(prefix), len(APIKeyPrefix)+5)
	}
}
