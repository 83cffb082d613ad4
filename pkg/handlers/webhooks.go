package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/webhook"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

// WebhooksHandler accepts pushed events for webhook sources. Requests are
// authenticated by the body signature, not by a JWT.
type WebhooksHandler struct {
	quptService services.QuptService
	logger      *zap.Logger
}

// NewWebhooksHandler creates a new webhooks handler.
func NewWebhooksHandler(quptService services.QuptService, logger *zap.Logger) *WebhooksHandler {
	return &WebhooksHandler{quptService: quptService, logger: logger}
}

// RegisterRoutes registers POST /api/webhooks/{sid}.
func (h *WebhooksHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/webhooks/{sid}", scope(h.Receive))
}

// Receive handles POST /api/webhooks/{sid}
func (h *WebhooksHandler) Receive(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := ParseSourceID(w, r, h.logger)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		if err := ErrorResponse(w, status, "invalid_request", "Failed to read webhook body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.quptService.IngestWebhook(r.Context(), sourceID, body, r.Header.Get(webhook.SignatureHeader))
	if apperrors.IsKind(err, apperrors.KindCredential) {
		h.logger.Info("Webhook signature rejected", zap.String("source_id", sourceID.String()))
		if err := ErrorResponse(w, http.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err != nil {
		WriteServiceError(w, err, h.logger, "ingest webhook")
		return
	}
	if err := WriteJSON(w, http.StatusAccepted, result); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
