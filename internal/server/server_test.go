package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spigotd/spigot/internal/auth"
	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/relay"
	"github.com/spigotd/spigot/internal/store"
	"github.com/spigotd/spigot/internal/upstream"
	"github.com/spigotd/spigot/internal/usage"
)

const (
	testJWTSecret = "test-secret-for-server-tests"
	testPassword  = "supersecretpassword"
)

// newTestServer wires a full Server against an in-memory store and an empty
// model registry.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.New("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authority := auth.NewAuthority(st, testJWTSecret, 30*time.Minute, 24*time.Hour, logger)
	refresher := auth.NewRefresher(authority, 10*time.Second, 0)
	gate := auth.NewGate(st, authority)
	ledger := usage.NewLedger(st, logger)
	registry := upstream.NewRegistry(nil)
	rl := relay.New(upstream.NewClient(), registry, ledger, logger, 5*time.Minute)

	return New(DefaultConfig(), Deps{
		Store:     st,
		Authority: authority,
		Refresher: refresher,
		Gate:      gate,
		Relay:     rl,
		Ledger:    ledger,
	}, logger)
}

func doRequest(t *testing.T, srv *Server, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, "GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rr.Code)
	}

	rr = doRequest(t, srv, "GET", "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", rr.Code)
	}
}

func TestRequestIDHeaderOnEveryResponse(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, "GET", "/healthz", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	srv := newTestServer(t)

	protected := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/auth/me"},
		{"GET", "/api/v1/keys"},
		{"GET", "/api/v1/usage/overview"},
		{"GET", "/api/v1/sessions"},
		{"GET", "/api/v1/users"},
		{"GET", "/v1/models"},
		{"POST", "/v1/chat/completions"},
	}
	for _, route := range protected {
		rr := doRequest(t, srv, route.method, route.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s anonymous = %d, want 401", route.method, route.path, rr.Code)
		}
	}
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, "POST", "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": testPassword,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, "POST", "/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": testPassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}

	var pair model.TokenPair
	if err := json.Unmarshal(rr.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}

	rr = doRequest(t, srv, "GET", "/api/v1/auth/me", pair.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("me status = %d, want 200", rr.Code)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, "GET", "/api/v1/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
