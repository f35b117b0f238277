package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/server/middleware"
	"github.com/spigotd/spigot/internal/store"
)

// SessionHandler serves stored conversation management. Sessions are plain
// storage: appending a message does not trigger inference, and completions do
// not write sessions. Clients own the orchestration between the two.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(st *store.Store) *SessionHandler {
	return &SessionHandler{store: st}
}

// createSessionRequest is the expected payload for the CreateSession endpoint.
type createSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession starts a new stored conversation for the caller.
// POST /api/v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req createSessionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}

	sess := &model.ChatSession{
		ID:     uuid.NewString(),
		UserID: principal.UserID,
		Title:  req.Title,
	}
	if err := h.store.CreateChatSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions returns the caller's sessions, most recently updated first.
// GET /api/v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	sessions, err := h.store.ListChatSessions(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []model.ChatSession{}
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: sessions,
		Meta:     &model.ResponseMeta{Count: len(sessions)},
	})
}

// GetSession returns one of the caller's sessions with its messages.
// GET /api/v1/sessions/{sessionId}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "sessionId")

	sess, err := h.store.GetChatSession(r.Context(), id, principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}

	messages, err := h.store.ListChatMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load messages: "+err.Error())
		return
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  sess,
		"messages": messages,
	})
}

// DeleteSession removes one of the caller's sessions and all its messages.
// DELETE /api/v1/sessions/{sessionId}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "sessionId")

	if err := h.store.DeleteChatSession(r.Context(), id, principal.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// appendMessageRequest is the expected payload for the AppendMessage endpoint.
type appendMessageRequest struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// AppendMessage stores one turn in a session. No inference happens here.
// POST /api/v1/sessions/{sessionId}/messages
func (h *SessionHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "sessionId")

	var req appendMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !model.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "Invalid message role: "+req.Role)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}

	// Ownership check before the write.
	if _, err := h.store.GetChatSession(r.Context(), id, principal.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}

	msg := &model.ChatMessage{
		SessionID: id,
		Role:      req.Role,
		Content:   req.Content,
		Reasoning: req.Reasoning,
	}
	if err := h.store.AppendChatMessage(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to append message: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// updateMessageRequest is the expected payload for the UpdateMessage endpoint.
type updateMessageRequest struct {
	Content string `json:"content"`
}

// UpdateMessage edits a stored message's content in place.
// PUT /api/v1/sessions/{sessionId}/messages/{messageId}
func (h *SessionHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	msgID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	var req updateMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}

	if _, err := h.store.GetChatSession(r.Context(), sessionID, principal.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}

	if err := h.store.UpdateChatMessage(r.Context(), msgID, sessionID, req.Content); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update message: "+err.Error())
		return
	}

	msg, err := h.store.GetChatMessage(r.Context(), msgID, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load message: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// DeleteMessage removes a stored message.
// DELETE /api/v1/sessions/{sessionId}/messages/{messageId}
func (h *SessionHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	msgID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	if _, err := h.store.GetChatSession(r.Context(), sessionID, principal.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load session: "+err.Error())
		return
	}

	if err := h.store.DeleteChatMessage(r.Context(), msgID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete message: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
