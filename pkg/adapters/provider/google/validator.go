package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// Validator checks Google credentials against the OpenID userinfo endpoint.
// It is shared by gdocs, gdrive and gmail.
type Validator struct {
	client *Client
}

func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

var _ provider.Validator = (*Validator)(nil)

func (v *Validator) Validate(ctx context.Context, credentials, _ map[string]any) (*models.ValidationResult, error) {
	s, err := v.client.newSession(ctx, credentials)
	if err != nil {
		var se *apperrors.SyncError
		if errors.As(err, &se) && se.Kind == apperrors.KindConfiguration {
			return provider.Invalid(se.Message), nil
		}
		if provider.IsUnauthorized(err) {
			return provider.Invalid("Google rejected the refresh token"), nil
		}
		return nil, err
	}

	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if _, err := s.get(ctx, "/oauth2/v3/userinfo", nil, &info); err != nil {
		if provider.IsUnauthorized(err) {
			return provider.Invalid("Google rejected the access token"), nil
		}
		return nil, fmt.Errorf("google: validate credentials: %w", err)
	}

	result := &models.ValidationResult{
		Valid:    true,
		Metadata: map[string]any{"email": info.Email, "name": info.Name},
	}
	if s.oauth == nil {
		result.Warnings = append(result.Warnings, "no refresh token; syncing stops when the access token expires")
	}
	return result, nil
}
