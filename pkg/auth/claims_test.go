package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

func TestGetClaims_Success(t *testing.T) {
	claims := &Claims{Tier: models.TierCoherent}
	claims.Subject = "user-123"

	ctx := WithClaims(context.Background(), claims, "raw-token")

	got, ok := GetClaims(ctx)
	if !ok {
		t.Fatal("expected claims to be found")
	}
	if got.Subject != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", got.Subject)
	}
	if token, _ := GetToken(ctx); token != "raw-token" {
		t.Errorf("expected token 'raw-token', got %q", token)
	}
	if tier := GetTier(ctx); tier != models.TierCoherent {
		t.Errorf("expected tier coherent, got %q", tier)
	}
}

func TestGetClaims_NotFound(t *testing.T) {
	if _, ok := GetClaims(context.Background()); ok {
		t.Error("expected claims to not be found")
	}
	if tier := GetTier(context.Background()); tier != "" {
		t.Errorf("expected empty tier, got %q", tier)
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-a-claims-struct")
	if _, ok := GetClaims(ctx); ok {
		t.Error("expected claims to not be found for wrong type")
	}
}

func TestGetZokuID(t *testing.T) {
	zokuID := uuid.New()

	tests := []struct {
		name    string
		subject string
		want    uuid.UUID
	}{
		{"uuid subject", zokuID.String(), zokuID},
		{"service subject", "scheduler", uuid.Nil},
		{"empty subject", "", uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := &Claims{}
			claims.Subject = tt.subject
			ctx := WithClaims(context.Background(), claims, "")

			if got := GetZokuID(ctx); got != tt.want {
				t.Errorf("GetZokuID() = %v, want %v", got, tt.want)
			}
			_, err := RequireZokuID(ctx)
			if (err != nil) != (tt.want == uuid.Nil) {
				t.Errorf("RequireZokuID() error = %v", err)
			}
		})
	}
}
