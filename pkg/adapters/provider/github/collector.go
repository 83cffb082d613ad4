// Package github collects issue and pull request activity from a GitHub repository.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
)

const (
	perPage = 100
	// maxPages bounds one sync. Results are sorted by updated_at ascending, so
	// a truncated fetch resumes from the cursor on the next sync.
	maxPages = 10
)

type issue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	HTMLURL     string     `json:"html_url"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	Comments    int        `json:"comments"`
	PullRequest *struct{}  `json:"pull_request"`
	User        struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// Collector fetches issues and pull requests updated since the floor.
type Collector struct {
	client     *provider.HTTPClient
	defaultAPI string
	logger     *zap.Logger
}

// NewCollector creates a GitHub collector. defaultAPI is used when the source
// config does not set api_url.
func NewCollector(client *provider.HTTPClient, defaultAPI string, logger *zap.Logger) *Collector {
	return &Collector{
		client:     client,
		defaultAPI: strings.TrimRight(defaultAPI, "/"),
		logger:     logger.Named("github"),
	}
}

var _ provider.Collector = (*Collector)(nil)

func (c *Collector) Collect(ctx context.Context, req provider.CollectRequest) (*provider.CollectResult, error) {
	owner, err := provider.RequireString(req.Config, "owner", "github config")
	if err != nil {
		return nil, err
	}
	repo, err := provider.RequireString(req.Config, "repo", "github config")
	if err != nil {
		return nil, err
	}
	apiURL := c.defaultAPI
	if v := provider.StringField(req.Config, "api_url"); v != "" {
		apiURL = strings.TrimRight(v, "/")
	}

	tracker, err := provider.NewTimeCursorTracker(req.Cursor)
	if err != nil {
		return nil, err
	}
	cursorTime, _ := provider.TimeCursor(req.Cursor)
	floor := provider.Floor(req.Since, cursorTime)

	header := provider.BearerHeader(provider.StringField(req.Credentials, "token"))
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", apiURL, url.PathEscape(owner), url.PathEscape(repo))
	var records []provider.Record
	truncated := false

	for page := 1; page <= maxPages; page++ {
		query := url.Values{
			"state":     {"all"},
			"sort":      {"updated"},
			"direction": {"asc"},
			"per_page":  {strconv.Itoa(perPage)},
			"page":      {strconv.Itoa(page)},
		}
		if !floor.IsZero() {
			query.Set("since", floor.UTC().Format(time.RFC3339))
		}

		var batch []issue
		if _, err := c.client.GetJSON(ctx, endpoint, query, header, &batch); err != nil {
			return nil, fmt.Errorf("github: list issues for %s/%s: %w", owner, repo, err)
		}

		for _, is := range batch {
			tracker.Observe(is.UpdatedAt)
			if is.UpdatedAt.Before(req.Since) {
				continue
			}
			records = append(records, toRecord(owner, repo, is))
		}

		if len(batch) < perPage {
			break
		}
		if page == maxPages {
			truncated = true
			c.logger.Info("Page cap reached; resuming from cursor on next sync",
				zap.String("repo", owner+"/"+repo),
				zap.Int("records", len(records)))
		}
	}

	return &provider.CollectResult{Records: records, Cursor: tracker.Cursor(), Truncated: truncated}, nil
}

func toRecord(owner, repo string, is issue) provider.Record {
	kind := "issue"
	label := "Issue"
	if is.PullRequest != nil {
		kind = "pull_request"
		label = "PR"
	}

	verb := "updated"
	switch {
	case is.State == "closed" && is.ClosedAt != nil && !is.ClosedAt.Before(is.UpdatedAt.Add(-time.Minute)):
		verb = "closed"
	case is.CreatedAt.Equal(is.UpdatedAt):
		verb = "opened"
	}

	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.Name)
	}

	updated := is.UpdatedAt.UTC().Format(time.RFC3339)
	return provider.Record{
		ExternalID: fmt.Sprintf("github:%s/%s:issue:%d:%s", owner, repo, is.Number, updated),
		Content:    fmt.Sprintf("%s #%d %s: %s", label, is.Number, verb, is.Title),
		Kind:       kind,
		OccurredAt: is.UpdatedAt,
		Metadata: map[string]any{
			"kind":     kind,
			"number":   is.Number,
			"title":    is.Title,
			"state":    is.State,
			"url":      is.HTMLURL,
			"author":   is.User.Login,
			"labels":   labels,
			"comments": is.Comments,
			"repo":     owner + "/" + repo,
		},
	}
}
