package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spigotd/spigot/internal/auth"
	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/server/middleware"
	"github.com/spigotd/spigot/internal/store"
)

// KeyHandler serves API key management. Keys are owner-scoped: callers see
// and revoke only their own keys.
type KeyHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(st *store.Store, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{store: st, logger: logger}
}

// createKeyRequest is the expected payload for the CreateKey endpoint.
type createKeyRequest struct {
	Label     string `json:"label"`
	ExpiresIn int    `json:"expires_in_days,omitempty"`
}

// createKeyResponse carries the only copy of the raw key the caller will
// ever see.
type createKeyResponse struct {
	model.APIKey
	Key string `json:"key"`
}

// CreateKey mints a new API key for the caller. The raw key is returned once
// in the response and stored only as a hash.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "Label is required")
		return
	}

	raw, err := auth.NewAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key")
		return
	}

	key := &model.APIKey{
		KeyHash:   store.HashSecret(raw),
		KeyPrefix: auth.APIKeyDisplayPrefix(raw),
		Label:     req.Label,
		UserID:    principal.UserID,
		IsActive:  true,
	}
	if req.ExpiresIn > 0 {
		exp := time.Now().UTC().AddDate(0, 0, req.ExpiresIn)
		key.ExpiresAt = &exp
	}

	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create key: "+err.Error())
		return
	}

	h.logger.Info("api key created",
		"key_id", key.ID, "user_id", principal.UserID, "prefix", key.KeyPrefix)
	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: *key, Key: raw})
}

// ListKeys returns the caller's API keys. Raw keys are not recoverable; only
// the display prefix identifies each one.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	keys, err := h.store.ListAPIKeysByUser(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys: "+err.Error())
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// RevokeKey deactivates one of the caller's keys. Admins may revoke any key.
// Requests authenticated by the key itself are still subject to this check;
// a key can revoke itself.
// DELETE /api/v1/keys/{keyId}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	id, err := pathID(r, "keyId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	ownerID := principal.UserID
	if principal.IsAdmin() {
		ownerID = 0 // admins bypass the ownership check
	}

	if err := h.store.RevokeAPIKey(r.Context(), id, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke key: "+err.Error())
		return
	}

	h.logger.Info("api key revoked", "key_id", id, "by_user_id", principal.UserID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
