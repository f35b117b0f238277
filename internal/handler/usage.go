package handler

import (
	"net/http"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/server/middleware"
	"github.com/spigotd/spigot/internal/usage"
)

// UsageHandler serves token-consumption reporting: per-user views for
// authenticated callers and system-wide views for admins. All report
// endpoints accept a "days" query parameter (default 30, max 365).
type UsageHandler struct {
	ledger *usage.Ledger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(ledger *usage.Ledger) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// Overview returns the caller's total tokens, request count, and daily series.
// GET /api/v1/usage/overview
func (h *UsageHandler) Overview(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	from, to := usagePeriod(r)

	overview, err := h.ledger.Overview(r.Context(), principal.UserID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// Models returns the caller's per-model token totals.
// GET /api/v1/usage/models
func (h *UsageHandler) Models(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	from, to := usagePeriod(r)

	models, err := h.ledger.ModelBreakdown(r.Context(), principal.UserID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: models,
		Meta:     &model.ResponseMeta{Count: len(models)},
	})
}

// Logs returns the caller's raw usage log, newest first.
// GET /api/v1/usage/logs
func (h *UsageHandler) Logs(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	limit := clampInt(queryInt(r, "limit", 50), 1, 500)
	offset := queryInt(r, "offset", 0)

	records, err := h.ledger.Logs(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage logs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: records,
		Meta: &model.ResponseMeta{
			Count:  len(records),
			Limit:  limit,
			Offset: offset,
		},
	})
}

// SystemOverview returns system-wide totals plus account counts. Admin only.
// GET /api/v1/admin/usage/overview
func (h *UsageHandler) SystemOverview(w http.ResponseWriter, r *http.Request) {
	from, to := usagePeriod(r)

	overview, err := h.ledger.SystemOverview(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// SystemModels returns the system-wide per-model totals. Admin only.
// GET /api/v1/admin/usage/models
func (h *UsageHandler) SystemModels(w http.ResponseWriter, r *http.Request) {
	from, to := usagePeriod(r)

	models, err := h.ledger.ModelBreakdown(r.Context(), 0, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: models,
		Meta:     &model.ResponseMeta{Count: len(models)},
	})
}

// SystemLogs returns the system-wide usage log, newest first. Admin only.
// GET /api/v1/admin/usage/logs
func (h *UsageHandler) SystemLogs(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 50), 1, 500)
	offset := queryInt(r, "offset", 0)

	records, err := h.ledger.Logs(r.Context(), 0, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage logs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: records,
		Meta: &model.ResponseMeta{
			Count:  len(records),
			Limit:  limit,
			Offset: offset,
		},
	})
}
