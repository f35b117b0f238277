package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/relay"
	"github.com/spigotd/spigot/internal/server/middleware"
	"github.com/spigotd/spigot/internal/upstream"
)

// ChatHandler serves the OpenAI-compatible inference surface: model listing
// and chat completions, streaming and non-streaming.
type ChatHandler struct {
	relay  *relay.Relay
	logger *slog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(rl *relay.Relay, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{relay: rl, logger: logger}
}

// modelInfo is one entry of the OpenAI-compatible model list.
type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // "model"
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// modelList is the OpenAI-compatible model list envelope.
type modelList struct {
	Object string      `json:"object"` // "list"
	Data   []modelInfo `json:"data"`
}

// ListModels returns the configured models in the OpenAI list shape.
// GET /v1/models
func (h *ChatHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	configured := h.relay.Models().List()

	data := make([]modelInfo, 0, len(configured))
	for _, m := range configured {
		owned := m.OwnedBy
		if owned == "" {
			owned = "organization"
		}
		data = append(data, modelInfo{
			ID:      m.ID,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: owned,
		})
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: data})
}

// Completions serves POST /v1/chat/completions. Authentication and model
// resolution are settled before any stream bytes go out, so those failures
// surface as ordinary JSON errors; once streaming starts, failures surface
// as terminal in-band events.
func (h *ChatHandler) Completions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req model.CompletionRequest
	if err := readJSONStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "Model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "At least one message is required")
		return
	}
	for i, msg := range req.Messages {
		if !model.ValidRole(msg.Role) {
			writeError(w, http.StatusBadRequest, "Invalid message role",
				map[string]interface{}{"index": i, "role": msg.Role})
			return
		}
	}

	if req.Stream {
		if err := h.relay.Stream(r.Context(), w, principal.UserID, &req); err != nil {
			h.writeRelayError(w, &req, err)
		}
		return
	}

	resp, err := h.relay.Complete(r.Context(), principal.UserID, &req)
	if err != nil {
		h.writeRelayError(w, &req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeRelayError maps pre-stream relay failures to HTTP statuses. Upstream
// 4xx statuses pass through so clients see e.g. context-length errors; other
// upstream failures collapse to 502.
func (h *ChatHandler) writeRelayError(w http.ResponseWriter, req *model.CompletionRequest, err error) {
	if errors.Is(err, upstream.ErrModelNotFound) {
		writeError(w, http.StatusNotFound, "Unknown model: "+req.Model)
		return
	}

	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		h.logger.Warn("upstream rejected completion",
			"model", req.Model, "status", upErr.Status, "message", upErr.Message)
		if upErr.Status >= 400 && upErr.Status < 500 {
			writeError(w, upErr.Status, upErr.Message)
			return
		}
		writeError(w, http.StatusBadGateway, "Upstream error: "+upErr.Message)
		return
	}

	h.logger.Error("completion failed", "model", req.Model, "error", err)
	writeError(w, http.StatusBadGateway, "Failed to reach model backend")
}
