package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/auth"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

// ListSourcesResponse wraps the sources of an entanglement.
type ListSourcesResponse struct {
	Sources []*models.Source `json:"sources"`
}

// SourcesHandler handles source CRUD and manual sync.
type SourcesHandler struct {
	sourceService services.SourceService
	syncService   services.SyncService
	logger        *zap.Logger
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(sourceService services.SourceService, syncService services.SyncService, logger *zap.Logger) *SourcesHandler {
	return &SourcesHandler{
		sourceService: sourceService,
		syncService:   syncService,
		logger:        logger,
	}
}

// RegisterRoutes registers the sources handler's routes on the given mux.
func (h *SourcesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	read := authMiddleware.RequireTier(models.TierObserved)
	write := authMiddleware.RequireTier(models.TierEntangled)

	mux.HandleFunc("GET /api/entanglements/{eid}/sources", read(scope(h.List)))
	mux.HandleFunc("POST /api/entanglements/{eid}/sources", write(scope(h.Create)))
	mux.HandleFunc("GET /api/sources/{sid}", read(scope(h.Get)))
	mux.HandleFunc("PATCH /api/sources/{sid}", write(scope(h.Update)))
	mux.HandleFunc("DELETE /api/sources/{sid}", write(scope(h.Delete)))
	mux.HandleFunc("POST /api/sources/{sid}/sync", write(scope(h.Sync)))
}

// List handles GET /api/entanglements/{eid}/sources
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	entanglementID, ok := ParseEntanglementID(w, r, h.logger)
	if !ok {
		return
	}

	sources, err := h.sourceService.ListByEntanglement(r.Context(), entanglementID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "list sources")
		return
	}
	if sources == nil {
		sources = []*models.Source{}
	}
	if err := WriteJSON(w, http.StatusOK, ListSourcesResponse{Sources: sources}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Create handles POST /api/entanglements/{eid}/sources
func (h *SourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	entanglementID, ok := ParseEntanglementID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.CreateSourceRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	src, err := h.sourceService.Create(r.Context(), entanglementID, req)
	if err != nil {
		WriteServiceError(w, err, h.logger, "create source")
		return
	}
	if err := WriteJSON(w, http.StatusCreated, src); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Get handles GET /api/sources/{sid}
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return
	}

	src, err := h.sourceService.Get(r.Context(), sourceID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "get source")
		return
	}
	if err := WriteJSON(w, http.StatusOK, src); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Update handles PATCH /api/sources/{sid}
func (h *SourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.UpdateSourceRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	src, err := h.sourceService.Update(r.Context(), sourceID, req)
	if err != nil {
		WriteServiceError(w, err, h.logger, "update source")
		return
	}
	if err := WriteJSON(w, http.StatusOK, src); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Delete handles DELETE /api/sources/{sid}
func (h *SourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.sourceService.Delete(r.Context(), sourceID); err != nil {
		WriteServiceError(w, err, h.logger, "delete source")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles POST /api/sources/{sid}/sync. It runs the sync inline and
// returns its result.
func (h *SourcesHandler) Sync(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.syncService.TriggerSync(r.Context(), sourceID, services.TriggerOptions{Manual: true})
	if err != nil {
		WriteServiceError(w, err, h.logger, "sync source")
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
