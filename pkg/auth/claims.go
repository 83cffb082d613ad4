// Package auth validates bearer JWTs and enforces zoku access tiers on HTTP routes.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims is the token payload. Subject is the zoku id of the caller.
type Claims struct {
	jwt.RegisteredClaims
	Tier  models.AccessTier `json:"tier,omitempty"`
	Email string            `json:"email,omitempty"`
	Name  string            `json:"name,omitempty"`
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithClaims returns ctx carrying claims and the raw token.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// GetZokuID returns the caller's zoku id, or uuid.Nil when the subject is
// missing or is not a UUID (service tokens).
func GetZokuID(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.Subject == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// RequireZokuID is GetZokuID for operations that need an author.
func RequireZokuID(ctx context.Context) (uuid.UUID, error) {
	id := GetZokuID(ctx)
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("zoku id not found in token subject")
	}
	return id, nil
}

// GetTier returns the caller's access tier, or "" when unauthenticated.
func GetTier(ctx context.Context) models.AccessTier {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Tier
}
