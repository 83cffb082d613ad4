package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/auth"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// ProvidersResponse lists the registered source types.
type ProvidersResponse struct {
	Providers []provider.Info `json:"providers"`
}

// ProvidersHandler serves provider discovery.
type ProvidersHandler struct {
	registry *provider.Registry
	logger   *zap.Logger
}

func NewProvidersHandler(registry *provider.Registry, logger *zap.Logger) *ProvidersHandler {
	return &ProvidersHandler{registry: registry, logger: logger}
}

// RegisterRoutes registers GET /api/providers.
func (h *ProvidersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/providers", authMiddleware.RequireTier(models.TierObserved)(h.List))
}

// List handles GET /api/providers
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, ProvidersResponse{Providers: h.registry.Providers()}); err != nil {
		h.logger.Error("Failed to encode providers response", zap.Error(err))
	}
}
