package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// Middleware guards handlers with token validation and tier checks.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireTier validates the JWT and requires at least the given access tier.
// Claims and the raw token are stored in the request context.
func (m *Middleware) RequireTier(min models.AccessTier) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			if err := m.authService.RequireTier(claims, min); err != nil {
				m.logger.Info("Request denied by access tier",
					zap.String("subject", claims.Subject),
					zap.String("tier", string(claims.Tier)),
					zap.String("required", string(min)),
					zap.String("path", r.URL.Path))
				writeAuthError(w, http.StatusForbidden, "forbidden", "Access tier "+string(min)+" required")
				return
			}

			next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
		}
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
