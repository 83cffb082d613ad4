package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies and webhook deliveries.
const maxBodyBytes = 1 << 20

// ParseEntanglementID extracts and validates the entanglement ID from the path.
// Expects path parameter: eid
func ParseEntanglementID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "eid", "invalid_entanglement_id", "Invalid entanglement ID format", logger)
}

// ParseSourceID extracts and validates the source ID from the path.
// Expects path parameter: sid
func ParseSourceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "sid", "invalid_source_id", "Invalid source ID format", logger)
}

// ParseJewelID extracts and validates the jewel ID from the path.
// Expects path parameter: jid
func ParseJewelID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "jid", "invalid_jewel_id", "Invalid jewel ID format", logger)
}

// ParseQuptID extracts and validates the qupt ID from the path.
// Expects path parameter: qid
func ParseQuptID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "qid", "invalid_qupt_id", "Invalid qupt ID format", logger)
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON reads a bounded JSON body into dst. On failure it writes a 400
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		message := "Invalid request body"
		if errors.Is(err, io.EOF) {
			message = "Request body is required"
		}
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

// queryTime parses an optional RFC3339 query parameter.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// queryInt parses an optional integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
