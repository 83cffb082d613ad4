package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// validateTimeout bounds the /user check, which runs inside a user request.
const validateTimeout = 10 * time.Second

// Validator checks a token against GET /user.
type Validator struct {
	client     *provider.HTTPClient
	defaultAPI string
}

// NewValidator creates a GitHub credential validator.
func NewValidator(client *provider.HTTPClient, defaultAPI string) *Validator {
	return &Validator{client: client, defaultAPI: strings.TrimRight(defaultAPI, "/")}
}

var _ provider.Validator = (*Validator)(nil)

func (v *Validator) Validate(ctx context.Context, credentials, config map[string]any) (*models.ValidationResult, error) {
	token := provider.StringField(credentials, "token")
	if token == "" {
		return provider.Invalid("token is required"), nil
	}

	apiURL := v.defaultAPI
	if u := provider.StringField(config, "api_url"); u != "" {
		apiURL = strings.TrimRight(u, "/")
	}

	var user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	header := provider.BearerHeader(token)
	header.Set("Accept", "application/vnd.github+json")

	resp, err := v.client.Do(ctx, &provider.Request{
		Method:  http.MethodGet,
		URL:     apiURL + "/user",
		Header:  header,
		Timeout: validateTimeout,
	}, &user)
	if err != nil {
		if provider.IsUnauthorized(err) {
			return provider.Invalid("GitHub rejected the token"), nil
		}
		return nil, fmt.Errorf("github: validate token: %w", err)
	}

	result := &models.ValidationResult{
		Valid:    true,
		Metadata: map[string]any{"login": user.Login, "name": user.Name},
	}

	// Fine-grained tokens carry no X-OAuth-Scopes header.
	if resp.Header.Values("X-OAuth-Scopes") != nil {
		scopes := resp.Header.Get("X-OAuth-Scopes")
		result.Metadata["scopes"] = scopes
		if !hasScope(scopes, "repo") {
			result.Warnings = append(result.Warnings, "token lacks the repo scope; private repositories will not sync")
		}
	}
	return result, nil
}

func hasScope(header, scope string) bool {
	for _, s := range strings.Split(header, ",") {
		if strings.TrimSpace(s) == scope {
			return true
		}
	}
	return false
}
