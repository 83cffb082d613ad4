// Package zammad collects helpdesk ticket activity from a Zammad instance.
package zammad

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

const (
	perPage  = 100
	maxPages = 10
)

type ticket struct {
	ID        int       `json:"id"`
	Number    string    `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Priority  string    `json:"priority"`
	Group     string    `json:"group"`
	Customer  string    `json:"customer"`
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

func tokenHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token token="+token)
	return h
}

func baseURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid zammad url %q", raw)
	}
	return u.String(), u.Hostname(), nil
}

// Collector fetches tickets updated since the floor.
type Collector struct {
	client *provider.HTTPClient
	logger *zap.Logger
}

func NewCollector(client *provider.HTTPClient, logger *zap.Logger) *Collector {
	return &Collector{client: client, logger: logger.Named("zammad")}
}

var _ provider.Collector = (*Collector)(nil)

func (c *Collector) Collect(ctx context.Context, req provider.CollectRequest) (*provider.CollectResult, error) {
	rawURL, err := provider.RequireString(req.Config, "url", "zammad config")
	if err != nil {
		return nil, err
	}
	base, host, err := baseURL(rawURL)
	if err != nil {
		return nil, err
	}
	token, err := provider.RequireString(req.Credentials, "token", "zammad credentials")
	if err != nil {
		return nil, err
	}

	tracker, err := provider.NewTimeCursorTracker(req.Cursor)
	if err != nil {
		return nil, err
	}
	cursorTime, _ := provider.TimeCursor(req.Cursor)
	floor := provider.Floor(req.Since, cursorTime)

	search := "*"
	if !floor.IsZero() {
		search = "updated_at:>=" + floor.UTC().Format(time.RFC3339)
	}

	var records []provider.Record
	truncated := false
	for page := 1; page <= maxPages; page++ {
		query := url.Values{
			"query":    {search},
			"sort_by":  {"updated_at"},
			"order_by": {"asc"},
			"expand":   {"true"},
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
		}

		var batch []ticket
		if _, err := c.client.GetJSON(ctx, base+"/api/v1/tickets/search", query, tokenHeader(token), &batch); err != nil {
			return nil, fmt.Errorf("zammad: search tickets on %s: %w", host, err)
		}

		for _, tk := range batch {
			tracker.Observe(tk.UpdatedAt)
			if tk.UpdatedAt.Before(req.Since) {
				continue
			}
			records = append(records, toRecord(host, tk))
		}

		if len(batch) < perPage {
			break
		}
		if page == maxPages {
			truncated = true
			c.logger.Info("Page cap reached; resuming from cursor on next sync",
				zap.String("host", host),
				zap.Int("records", len(records)))
		}
	}

	return &provider.CollectResult{Records: records, Cursor: tracker.Cursor(), Truncated: truncated}, nil
}

func toRecord(host string, tk ticket) provider.Record {
	verb := "updated"
	if tk.CreatedAt.Equal(tk.UpdatedAt) {
		verb = "created"
	}
	return provider.Record{
		ExternalID: fmt.Sprintf("zammad:%s:ticket:%d:%s", host, tk.ID, tk.UpdatedAt.UTC().Format(time.RFC3339)),
		Kind:       "ticket",
		Content:    fmt.Sprintf("Ticket #%s %s: %s [%s]", tk.Number, verb, tk.Title, tk.State),
		OccurredAt: tk.UpdatedAt,
		Metadata: map[string]any{
			"ticket_id": tk.ID,
			"number":    tk.Number,
			"title":     tk.Title,
			"state":     tk.State,
			"priority":  tk.Priority,
			"group":     tk.Group,
			"customer":  tk.Customer,
			"owner":     tk.Owner,
			"host":      host,
		},
	}
}

// Validator checks a token against /api/v1/users/me. The instance URL comes from
// the source config, or from the credentials when validating a standalone jewel.
type Validator struct {
	client *provider.HTTPClient
}

func NewValidator(client *provider.HTTPClient) *Validator {
	return &Validator{client: client}
}

var _ provider.Validator = (*Validator)(nil)

func (v *Validator) Validate(ctx context.Context, credentials, config map[string]any) (*models.ValidationResult, error) {
	token := provider.StringField(credentials, "token")
	if token == "" {
		return provider.Invalid("token is required"), nil
	}
	rawURL := provider.StringField(config, "url")
	if rawURL == "" {
		rawURL = provider.StringField(credentials, "url")
	}
	if rawURL == "" {
		return provider.Invalid("url is required in config or credentials"), nil
	}
	base, host, err := baseURL(rawURL)
	if err != nil {
		return provider.Invalid(err.Error()), nil
	}

	var me struct {
		ID        int    `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
	}
	if _, err := v.client.GetJSON(ctx, base+"/api/v1/users/me", nil, tokenHeader(token), &me); err != nil {
		if provider.IsUnauthorized(err) {
			return provider.Invalid("Zammad rejected the token"), nil
		}
		return nil, fmt.Errorf("zammad: validate token on %s: %w", host, err)
	}

	return &models.ValidationResult{
		Valid: true,
		Metadata: map[string]any{
			"login": me.Login,
			"email": me.Email,
			"name":  strings.TrimSpace(me.Firstname + " " + me.Lastname),
			"host":  host,
		},
	}, nil
}
