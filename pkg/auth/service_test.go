package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// mockValidator is a TokenValidator returning fixed claims.
type mockValidator struct {
	claims *Claims
	err    error
	got    string
}

func (m *mockValidator) ValidateToken(tokenString string) (*Claims, error) {
	m.got = tokenString
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockValidator) Close() {}

func TestAuthService_ValidateRequest_Cookie(t *testing.T) {
	validator := &mockValidator{claims: &Claims{Tier: models.TierObserved}}
	service := NewAuthService(validator, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/jewels", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")

	_, token, err := service.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if token != "cookie-token" || validator.got != "cookie-token" {
		t.Errorf("expected cookie to win, got %q", token)
	}
}

func TestAuthService_ValidateRequest_AuthHeader(t *testing.T) {
	validator := &mockValidator{claims: &Claims{Tier: models.TierObserved}}
	service := NewAuthService(validator, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/jewels", nil)
	req.Header.Set("Authorization", "bearer my-jwt-token")

	_, token, err := service.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if token != "my-jwt-token" {
		t.Errorf("expected token 'my-jwt-token', got %q", token)
	}
}

func TestAuthService_ValidateRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		valErr  error
		wantErr error
	}{
		{"missing", "", nil, ErrMissingAuthorization},
		{"basic scheme", "Basic dXNlcjpwYXNz", nil, ErrInvalidAuthFormat},
		{"bearer without token", "Bearer", nil, ErrInvalidAuthFormat},
		{"rejected token", "Bearer bad", errors.New("token validation failed"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewAuthService(&mockValidator{err: tt.valErr}, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/api/jewels", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			_, _, err := service.ValidateRequest(req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthService_RequireTier(t *testing.T) {
	service := NewAuthService(&mockValidator{}, zap.NewNop())

	tests := []struct {
		tier    models.AccessTier
		min     models.AccessTier
		wantErr error
	}{
		{models.TierObserved, models.TierObserved, nil},
		{models.TierPrime, models.TierEntangled, nil},
		{models.TierEntangled, models.TierEntangled, nil},
		{models.TierCoherent, models.TierEntangled, ErrInsufficientTier},
		{models.TierObserved, models.TierCoherent, ErrInsufficientTier},
		{"", models.TierObserved, ErrUnknownTier},
		{"admin", models.TierObserved, ErrUnknownTier},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier)+"->"+string(tt.min), func(t *testing.T) {
			err := service.RequireTier(&Claims{Tier: tt.tier}, tt.min)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RequireTier(%q, %q) = %v, want %v", tt.tier, tt.min, err, tt.wantErr)
			}
		})
	}
}
