package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceErrorBody is the JSON shape of an error returned by a service call.
type ServiceErrorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details []string               `json:"details,omitempty"`
	Usage   []apperrors.JewelUsage `json:"usage,omitempty"`
}

// statusForError maps a service error onto an HTTP status and error code.
func statusForError(err error) (int, ServiceErrorBody) {
	var inUse *apperrors.JewelInUseError
	if errors.As(err, &inUse) {
		return http.StatusConflict, ServiceErrorBody{Error: "jewel_in_use", Message: err.Error(), Usage: inUse.Usage}
	}

	var se *apperrors.SyncError
	if errors.As(err, &se) {
		body := ServiceErrorBody{Error: string(se.Kind) + "_error", Message: se.Message, Details: se.Details}
		switch se.Kind {
		case apperrors.KindCredential:
			if len(se.Details) > 0 {
				return http.StatusUnprocessableEntity, body
			}
			return http.StatusBadRequest, body
		case apperrors.KindProvider:
			return http.StatusBadGateway, body
		case apperrors.KindTimeout:
			return http.StatusGatewayTimeout, body
		default:
			return http.StatusBadRequest, body
		}
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ServiceErrorBody{Error: "not_found", Message: err.Error()}
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return http.StatusConflict, ServiceErrorBody{Error: "sync_in_progress", Message: err.Error()}
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, ServiceErrorBody{Error: "conflict", Message: err.Error()}
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest, ServiceErrorBody{Error: "invalid_input", Message: err.Error()}
	}
	return http.StatusInternalServerError, ServiceErrorBody{Error: "internal_error", Message: "Internal server error"}
}

// WriteServiceError translates err into a JSON error response. Unexpected
// errors are logged and reported without detail.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger, action string) {
	status, body := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Failed to "+action, zap.Error(err))
	} else {
		logger.Debug("Request failed",
			zap.String("action", action),
			zap.Int("status", status),
			zap.Error(err))
	}
	if err := WriteJSON(w, status, body); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
