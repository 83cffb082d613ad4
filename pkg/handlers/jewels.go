package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/auth"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

// ListJewelsResponse wraps the jewel list.
type ListJewelsResponse struct {
	Jewels []*models.Jewel `json:"jewels"`
}

// JewelUsageResponse lists the sources referencing a jewel.
type JewelUsageResponse struct {
	Usage     []apperrors.JewelUsage `json:"usage"`
	Deletable bool                   `json:"deletable"`
}

// JewelsHandler handles the credential vault's jewel routes.
type JewelsHandler struct {
	jewelService services.JewelService
	logger       *zap.Logger
}

// NewJewelsHandler creates a new jewels handler.
func NewJewelsHandler(jewelService services.JewelService, logger *zap.Logger) *JewelsHandler {
	return &JewelsHandler{jewelService: jewelService, logger: logger}
}

// RegisterRoutes registers the jewels handler's routes on the given mux.
func (h *JewelsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	read := authMiddleware.RequireTier(models.TierObserved)
	write := authMiddleware.RequireTier(models.TierEntangled)

	mux.HandleFunc("GET /api/jewels", read(scope(h.List)))
	mux.HandleFunc("POST /api/jewels", write(scope(h.Create)))
	mux.HandleFunc("GET /api/jewels/{jid}", read(scope(h.Get)))
	mux.HandleFunc("PATCH /api/jewels/{jid}", write(scope(h.Update)))
	mux.HandleFunc("DELETE /api/jewels/{jid}", write(scope(h.Delete)))
	mux.HandleFunc("GET /api/jewels/{jid}/usage", read(scope(h.Usage)))
}

// List handles GET /api/jewels?type=
func (h *JewelsHandler) List(w http.ResponseWriter, r *http.Request) {
	jewelType := models.SourceType(r.URL.Query().Get("type"))
	if jewelType != "" && !models.IsValidSourceType(string(jewelType)) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_type", "Unknown source type"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	jewels, err := h.jewelService.List(r.Context(), jewelType)
	if err != nil {
		WriteServiceError(w, err, h.logger, "list jewels")
		return
	}
	if jewels == nil {
		jewels = []*models.Jewel{}
	}
	if err := WriteJSON(w, http.StatusOK, ListJewelsResponse{Jewels: jewels}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Create handles POST /api/jewels. The owner defaults to the calling zoku.
func (h *JewelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateJewelRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if req.OwnerID == nil {
		if zokuID, err := auth.RequireZokuID(r.Context()); err == nil {
			req.OwnerID = &zokuID
		}
	}

	jewel, err := h.jewelService.Create(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger, "create jewel")
		return
	}
	if err := WriteJSON(w, http.StatusCreated, jewel); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Get handles GET /api/jewels/{jid}
func (h *JewelsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jewelID, ok := ParseJewelID(w, r, h.logger)
	if !ok {
		return
	}

	jewel, err := h.jewelService.Get(r.Context(), jewelID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "get jewel")
		return
	}
	if err := WriteJSON(w, http.StatusOK, jewel); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Update handles PATCH /api/jewels/{jid}
func (h *JewelsHandler) Update(w http.ResponseWriter, r *http.Request) {
	jewelID, ok := ParseJewelID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.UpdateJewelRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	jewel, err := h.jewelService.Update(r.Context(), jewelID, req)
	if err != nil {
		WriteServiceError(w, err, h.logger, "update jewel")
		return
	}
	if err := WriteJSON(w, http.StatusOK, jewel); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Delete handles DELETE /api/jewels/{jid}. A jewel still referenced by a
// source is refused with 409 and the referencing sources.
func (h *JewelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jewelID, ok := ParseJewelID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.jewelService.Delete(r.Context(), jewelID); err != nil {
		WriteServiceError(w, err, h.logger, "delete jewel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Usage handles GET /api/jewels/{jid}/usage
func (h *JewelsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	jewelID, ok := ParseJewelID(w, r, h.logger)
	if !ok {
		return
	}

	usage, err := h.jewelService.Usage(r.Context(), jewelID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "get jewel usage")
		return
	}
	if usage == nil {
		usage = []apperrors.JewelUsage{}
	}
	if err := WriteJSON(w, http.StatusOK, JewelUsageResponse{Usage: usage, Deletable: len(usage) == 0}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
