package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrUnknownTier          = errors.New("token carries no recognised access tier")
	ErrInsufficientTier     = errors.New("access tier too low for this operation")
)

// CookieName is the cookie browser clients carry the JWT in.
const CookieName = "zoku_jwt"

// AuthService validates requests and checks access tiers.
type AuthService interface {
	// ValidateRequest reads the JWT from the zoku_jwt cookie or a Bearer
	// Authorization header and returns its claims and the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireTier fails unless claims grant at least min.
	RequireTier(claims *Claims, min models.AccessTier) error
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates an AuthService backed by validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	var tokenString, tokenSource string

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		tokenString = cookie.Value
		tokenSource = "cookie"
	} else {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.logger.Debug("No JWT found in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			return nil, "", ErrMissingAuthorization
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return nil, "", ErrInvalidAuthFormat
		}
		tokenString = token
		tokenSource = "header"
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}
	return claims, tokenString, nil
}

func (s *authService) RequireTier(claims *Claims, min models.AccessTier) error {
	if claims.Tier.Rank() < 0 {
		return ErrUnknownTier
	}
	if !claims.Tier.AtLeast(min) {
		s.logger.Debug("Access tier too low",
			zap.String("subject", claims.Subject),
			zap.String("tier", string(claims.Tier)),
			zap.String("required", string(min)))
		return ErrInsufficientTier
	}
	return nil
}

var _ AuthService = (*authService)(nil)
