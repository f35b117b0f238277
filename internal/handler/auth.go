package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/spigotd/spigot/internal/auth"
	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/server/middleware"
	"github.com/spigotd/spigot/internal/store"
)

// AuthHandler serves the session lifecycle: register, login, refresh, logout,
// and the caller's own profile.
type AuthHandler struct {
	store     *store.Store
	authority *auth.Authority
	refresher *auth.Refresher
	logger    *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(st *store.Store, authority *auth.Authority, refresher *auth.Refresher, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		store:     st,
		authority: authority,
		refresher: refresher,
		logger:    logger,
	}
}

// registerRequest is the expected payload for the Register endpoint.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullname"`
	Password string `json:"password"`
}

// Register creates a new account. The first account on a fresh install is
// granted admin scope; everyone after that starts as a regular user.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if len(req.Username) < 3 {
		writeError(w, http.StatusBadRequest, "Username must be at least 3 characters")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	scopes := model.StringSet{model.ScopeUser}
	hasAdmin, err := h.store.HasAnyAdmin(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration error: "+err.Error())
		return
	}
	if !hasAdmin {
		scopes = model.StringSet{model.ScopeAdmin, model.ScopeUser}
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hash),
		IsActive:     true,
		Scopes:       scopes,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Username or email already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user: "+err.Error())
		return
	}

	h.logger.Info("user registered", "user_id", user.ID, "username", user.Username, "role", user.Role())
	writeJSON(w, http.StatusCreated, user)
}

// dummyHash is a structurally valid bcrypt hash compared against when the
// username does not exist, keeping login timing uniform.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies a username/password pair and returns a fresh token pair:
// a short-lived access token plus the head of a new refresh chain.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash comparison anyway so missing and wrong-password
			// logins take comparable time.
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is disabled")
		return
	}

	pair, err := h.authority.Issue(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens: "+err.Error())
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, pair)
}

// refreshRequest is the expected payload for the Refresh and Logout endpoints.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair. Concurrent requests
// presenting the same token share one rotation and receive the same pair.
// Replay of an older token revokes the whole chain.
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	pair, err := h.refresher.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenReused):
			writeError(w, http.StatusUnauthorized, "Refresh token reuse detected; session revoked")
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "Refresh token expired")
		case errors.Is(err, auth.ErrTokenRevoked), errors.Is(err, auth.ErrTokenInvalid):
			writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, auth.ErrInactiveUser):
			writeError(w, http.StatusForbidden, "Account is disabled")
		default:
			writeError(w, http.StatusInternalServerError, "Refresh error: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Logout revokes the presented refresh token's entire chain. Outstanding
// access tokens stay valid until their own expiry.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	if err := h.authority.RevokeByToken(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			// Already revoked or never existed; logout is idempotent.
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
			return
		}
		writeError(w, http.StatusInternalServerError, "Logout error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Me returns the authenticated caller's profile.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.store.GetUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}
