package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

// UserHandler serves the admin-only account management endpoints.
type UserHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(st *store.Store, logger *slog.Logger) *UserHandler {
	return &UserHandler{store: st, logger: logger}
}

// ListUsers returns all accounts, paginated.
// GET /api/v1/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 50), 1, 500)
	offset := queryInt(r, "offset", 0)

	users, err := h.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users: "+err.Error())
		return
	}
	if users == nil {
		users = []model.User{}
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: users,
		Meta: &model.ResponseMeta{
			Count:  len(users),
			Limit:  limit,
			Offset: offset,
		},
	})
}

// createUserRequest is the expected payload for the CreateUser endpoint.
type createUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"fullname"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes"`
}

// CreateUser provisions an account with explicit scopes.
// POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Username) < 3 {
		writeError(w, http.StatusBadRequest, "Username must be at least 3 characters")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	for _, s := range req.Scopes {
		if !validScope(s) {
			writeError(w, http.StatusBadRequest, "Unknown scope: "+s)
			return
		}
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{model.ScopeUser}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hash),
		IsActive:     true,
		Scopes:       model.StringSet(req.Scopes),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Username or email already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user: "+err.Error())
		return
	}

	h.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser returns one account by ID.
// GET /api/v1/users/{userId}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
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

// updateUserRequest is the expected payload for the UpdateUser endpoint.
// Pointer fields distinguish "leave unchanged" from "set to zero value".
type updateUserRequest struct {
	Email    *string  `json:"email"`
	FullName *string  `json:"fullname"`
	Password *string  `json:"password"`
	IsActive *bool    `json:"active"`
	Scopes   []string `json:"scopes"`
}

// UpdateUser patches an account: profile fields, password, active flag, or
// scope assignment.
// PUT /api/v1/users/{userId}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req updateUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user: "+err.Error())
		return
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Scopes != nil {
		for _, s := range req.Scopes {
			if !validScope(s) {
				writeError(w, http.StatusBadRequest, "Unknown scope: "+s)
				return
			}
		}
		user.Scopes = model.StringSet(req.Scopes)
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}
		user.PasswordHash = string(hash)
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Email already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update user: "+err.Error())
		return
	}

	h.logger.Info("user updated", "user_id", user.ID, "active", user.IsActive)
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes an account. Accounts with usage history cannot be
// deleted, because that would orphan the accounting; deactivate them instead.
// DELETE /api/v1/users/{userId}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict,
				"User has usage history and cannot be deleted; deactivate instead")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to delete user: "+err.Error())
		}
		return
	}

	h.logger.Info("user deleted", "user_id", id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListScopes returns the assignable permission scopes.
// GET /api/v1/users/scopes
func (h *UserHandler) ListScopes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"scopes": model.Scopes()})
}

func validScope(scope string) bool {
	for _, s := range model.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// pathID parses a numeric chi URL parameter.
func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
