// Package google implements the Google Docs, Google Drive and Gmail providers.
// All three share one OAuth credential shape and one authenticated session type.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
)

// Client holds what every Google provider needs: the shared HTTP client, the
// API base URL and the OAuth token endpoint.
type Client struct {
	http     *provider.HTTPClient
	apiURL   string
	tokenURL string
}

// NewClient creates the shared Google client. apiURL is normally
// https://www.googleapis.com and tokenURL https://oauth2.googleapis.com/token.
func NewClient(httpClient *provider.HTTPClient, apiURL, tokenURL string) *Client {
	return &Client{
		http:     httpClient,
		apiURL:   strings.TrimRight(apiURL, "/"),
		tokenURL: tokenURL,
	}
}

// session issues authenticated requests for one set of credentials. When the
// credentials carry a refresh token and client pair, a rejected access token is
// exchanged once for a fresh one and the request is repeated.
type session struct {
	client      *Client
	accessToken string
	oauth       *oauth2.Config
	refresh     string
	refreshed   bool
}

func (c *Client) newSession(ctx context.Context, creds map[string]any) (*session, error) {
	s := &session{
		client:      c,
		accessToken: provider.StringField(creds, "access_token"),
		refresh:     provider.StringField(creds, "refresh_token"),
	}
	clientID := provider.StringField(creds, "client_id")
	clientSecret := provider.StringField(creds, "client_secret")
	if s.refresh != "" && clientID != "" && clientSecret != "" {
		s.oauth = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: c.tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		}
	}

	if s.accessToken == "" {
		if s.oauth == nil {
			return nil, apperrors.NewConfigurationError("google credentials need access_token or refresh_token with client_id and client_secret")
		}
		if err := s.renew(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *session) canRefresh() bool {
	return s.oauth != nil && !s.refreshed
}

func (s *session) renew(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client.http.HTTP())
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refresh}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return &provider.StatusError{
				Method:     http.MethodPost,
				URL:        s.client.tokenURL,
				StatusCode: unauthorizedStatus(re),
				Body:       re.ErrorCode,
			}
		}
		return fmt.Errorf("google: refresh access token: %w", err)
	}
	s.accessToken = tok.AccessToken
	s.refreshed = true
	return nil
}

// get issues a GET against the Google API relative path.
func (s *session) get(ctx context.Context, path string, query url.Values, out any) (*provider.Response, error) {
	target := s.client.apiURL + path
	resp, err := s.client.http.GetJSON(ctx, target, query, provider.BearerHeader(s.accessToken), out)
	if err != nil && provider.IsUnauthorized(err) && s.canRefresh() {
		if rerr := s.renew(ctx); rerr != nil {
			return nil, rerr
		}
		return s.client.http.GetJSON(ctx, target, query, provider.BearerHeader(s.accessToken), out)
	}
	return resp, err
}

// unauthorizedStatus maps token endpoint rejections onto 401 so callers treat
// a revoked refresh token like a revoked access token.
func unauthorizedStatus(re *oauth2.RetrieveError) int {
	if re.Response != nil && re.Response.StatusCode >= 500 {
		return re.Response.StatusCode
	}
	return http.StatusUnauthorized
}
