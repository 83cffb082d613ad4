package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/auth"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

// ListQuptsResponse is one page of the activity log.
type ListQuptsResponse struct {
	Qupts  []*models.Qupt `json:"qupts"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// QuptsHandler serves the activity log.
type QuptsHandler struct {
	quptService services.QuptService
	logger      *zap.Logger
}

// NewQuptsHandler creates a new qupts handler.
func NewQuptsHandler(quptService services.QuptService, logger *zap.Logger) *QuptsHandler {
	return &QuptsHandler{quptService: quptService, logger: logger}
}

// RegisterRoutes registers the qupts handler's routes on the given mux.
func (h *QuptsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/entanglements/{eid}/qupts",
		authMiddleware.RequireTier(models.TierObserved)(scope(h.List)))
	mux.HandleFunc("POST /api/entanglements/{eid}/qupts",
		authMiddleware.RequireTier(models.TierEntangled)(scope(h.Create)))
	mux.HandleFunc("DELETE /api/qupts/{qid}",
		authMiddleware.RequireTier(models.TierEntangled)(scope(h.Delete)))
}

// List handles GET /api/entanglements/{eid}/qupts
// Query: since, until (RFC3339), source, include_descendants, limit, offset.
func (h *QuptsHandler) List(w http.ResponseWriter, r *http.Request) {
	entanglementID, ok := ParseEntanglementID(w, r, h.logger)
	if !ok {
		return
	}

	filter, msg := parseQuptFilter(r)
	if msg != "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_query", msg); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	filter.EntanglementID = entanglementID
	filter.Normalize()

	qupts, err := h.quptService.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, err, h.logger, "list qupts")
		return
	}
	if qupts == nil {
		qupts = []*models.Qupt{}
	}
	resp := ListQuptsResponse{Qupts: qupts, Limit: filter.Limit, Offset: filter.Offset}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func parseQuptFilter(r *http.Request) (models.QuptFilter, string) {
	var filter models.QuptFilter
	var err error

	if filter.Since, err = queryTime(r, "since"); err != nil {
		return filter, "since must be an RFC3339 timestamp"
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		return filter, "until must be an RFC3339 timestamp"
	}
	if filter.Limit, err = queryInt(r, "limit", models.DefaultQuptLimit); err != nil {
		return filter, "limit must be an integer"
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		return filter, "offset must be an integer"
	}
	if raw := r.URL.Query().Get("include_descendants"); raw != "" {
		if filter.IncludeDescendants, err = strconv.ParseBool(raw); err != nil {
			return filter, "include_descendants must be a boolean"
		}
	}
	filter.Source = r.URL.Query().Get("source")
	return filter, ""
}

// Create handles POST /api/entanglements/{eid}/qupts. The author defaults to
// the calling zoku.
func (h *QuptsHandler) Create(w http.ResponseWriter, r *http.Request) {
	entanglementID, ok := ParseEntanglementID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.CreateQuptRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if req.ZokuID == nil {
		if zokuID, err := auth.RequireZokuID(r.Context()); err == nil {
			req.ZokuID = &zokuID
		}
	}

	q, err := h.quptService.Create(r.Context(), entanglementID, req)
	if err != nil {
		WriteServiceError(w, err, h.logger, "create qupt")
		return
	}
	if err := WriteJSON(w, http.StatusCreated, q); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Delete handles DELETE /api/qupts/{qid}
func (h *QuptsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	quptID, ok := ParseQuptID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.quptService.Delete(r.Context(), quptID); err != nil {
		WriteServiceError(w, err, h.logger, "delete qupt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
