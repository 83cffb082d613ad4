package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/zoku-engine/pkg/config"
	"github.com/ekaya-inc/zoku-engine/pkg/retry"
)

const (
	maxErrorBodyBytes    = 4 << 10
	maxResponseBodyBytes = 32 << 20
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IsRetryable reports whether the status is transient (429 or 5xx).
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsUnauthorized reports whether the provider rejected the credentials.
func (e *StatusError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Request describes one outbound provider call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Header  http.Header
	Form    url.Values // sent as application/x-www-form-urlencoded when set
	JSON    any        // sent as application/json when set
	// Timeout bounds each attempt, including reading the body. Zero leaves
	// only the client timeout and ctx.
	Timeout time.Duration
}

// Response is the decoded result of a provider call.
type Response struct {
	StatusCode int
	Header     http.Header
}

// HTTPClient is the outbound client shared by collectors and validators.
// It rate limits every request and retries transient failures.
type HTTPClient struct {
	client    *http.Client
	limiter   *rate.Limiter
	retry     *retry.Config
	userAgent string
	logger    *zap.Logger
}

// NewHTTPClient builds the shared provider client from configuration.
func NewHTTPClient(cfg config.ProvidersConfig, logger *zap.Logger) *HTTPClient {
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		retry:     retry.ProviderConfig(),
		userAgent: cfg.UserAgent,
		logger:    logger.Named("provider-http"),
	}
}

// WithRetryConfig returns a copy of the client using cfg for retries.
func (c *HTTPClient) WithRetryConfig(cfg *retry.Config) *HTTPClient {
	clone := *c
	clone.retry = cfg
	return &clone
}

// HTTP exposes the underlying client for libraries that need a plain *http.Client.
func (c *HTTPClient) HTTP() *http.Client {
	return c.client
}

// GetJSON performs a GET and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, query url.Values, header http.Header, out any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL, Query: query, Header: header}, out)
}

// Do sends req, retrying transient failures, and decodes a JSON response into out
// when out is non-nil.
func (c *HTTPClient) Do(ctx context.Context, req *Request, out any) (*Response, error) {
	var resp *Response
	err := retry.DoIfRetryable(ctx, c.retry, func() error {
		var err error
		resp, err = c.doOnce(ctx, req, out)
		return err
	})
	if err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *HTTPClient) doOnce(ctx context.Context, req *Request, out any) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, redactURL(httpReq.URL), err)
	}
	defer httpResp.Body.Close()

	c.logger.Debug("Provider request",
		zap.String("method", req.Method),
		zap.String("url", redactURL(httpReq.URL)),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodyBytes))
		return resp, &StatusError{
			Method:     req.Method,
			URL:        redactURL(httpReq.URL),
			StatusCode: httpResp.StatusCode,
			Body:       string(body),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return resp, nil
	}
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBodyBytes)).Decode(out); err != nil {
		return resp, fmt.Errorf("%s %s: failed to decode response: %w", req.Method, redactURL(httpReq.URL), err)
	}
	return resp, nil
}

func (c *HTTPClient) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL %q: %w", req.URL, err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	return httpReq, nil
}

// redactURL drops query values that may carry credentials.
func redactURL(u *url.URL) string {
	clean := *u
	clean.User = nil
	q := clean.Query()
	for _, key := range []string{"access_token", "key", "token", "client_secret"} {
		if q.Has(key) {
			q.Set(key, "[REDACTED]")
		}
	}
	clean.RawQuery = q.Encode()
	return clean.String()
}

// BearerHeader returns an Authorization header for token, or an empty header
// when token is empty.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
