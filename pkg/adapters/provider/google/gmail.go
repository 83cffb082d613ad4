package google

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

const (
	gmailPageSize = 100
	// Gmail lists newest first, so a partial listing would lose the oldest
	// messages for good. Past this many pages the sync fails instead.
	gmailMaxPages = 50
)

type gmailMessage struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// GmailCollector fetches messages matching the configured query or label.
type GmailCollector struct {
	client *Client
	logger *zap.Logger
}

func NewGmailCollector(client *Client, logger *zap.Logger) *GmailCollector {
	return &GmailCollector{client: client, logger: logger.Named("gmail")}
}

var _ provider.Collector = (*GmailCollector)(nil)

func (c *GmailCollector) Collect(ctx context.Context, req provider.CollectRequest) (*provider.CollectResult, error) {
	lastSeen, err := internalDateCursor(req.Cursor)
	if err != nil {
		return nil, err
	}
	floor := req.Since
	if lastSeen > 0 {
		floor = provider.Floor(req.Since, time.UnixMilli(lastSeen))
	}

	s, err := c.client.newSession(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	search := gmailSearch(req.Config, floor)
	ids, err := c.listMessageIDs(ctx, s, search)
	if err != nil {
		return nil, err
	}

	maxSeen := lastSeen
	records := make([]provider.Record, 0, len(ids))
	for _, id := range ids {
		var msg gmailMessage
		query := url.Values{
			"format":          {"metadata"},
			"metadataHeaders": {"Subject", "From", "To"},
		}
		if _, err := s.get(ctx, "/gmail/v1/users/me/messages/"+url.PathEscape(id), query, &msg); err != nil {
			return nil, fmt.Errorf("gmail: get message %s: %w", id, err)
		}
		ms, err := strconv.ParseInt(msg.InternalDate, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gmail: message %s has invalid internalDate %q", msg.ID, msg.InternalDate)
		}
		if ms > maxSeen {
			maxSeen = ms
		}
		at := time.UnixMilli(ms).UTC()
		if ms <= lastSeen || at.Before(req.Since) {
			continue
		}
		records = append(records, messageRecord(&msg, at))
	}

	cursor := models.Cursor{Provider: models.SourceTypeGmail, Value: req.Cursor.Value}
	if maxSeen > lastSeen {
		cursor.Value = strconv.FormatInt(maxSeen, 10)
	}
	return &provider.CollectResult{Records: records, Cursor: cursor}, nil
}

// internalDateCursor parses a cursor holding epoch milliseconds.
func internalDateCursor(c models.Cursor) (int64, error) {
	if c.IsZero() {
		return 0, nil
	}
	ms, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gmail cursor %q: %w", c.Value, err)
	}
	return ms, nil
}

func (c *GmailCollector) listMessageIDs(ctx context.Context, s *session, search string) ([]string, error) {
	var ids []string
	pageToken := ""
	for page := 1; ; page++ {
		if page > gmailMaxPages {
			return nil, apperrors.NewProviderError(nil,
				fmt.Sprintf("gmail: more than %d messages match %q; narrow the query", gmailMaxPages*gmailPageSize, search))
		}
		query := url.Values{"maxResults": {strconv.Itoa(gmailPageSize)}}
		if search != "" {
			query.Set("q", search)
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var resp struct {
			Messages []struct {
				ID string `json:"id"`
			} `json:"messages"`
			NextPageToken string `json:"nextPageToken"`
		}
		if _, err := s.get(ctx, "/gmail/v1/users/me/messages", query, &resp); err != nil {
			return nil, fmt.Errorf("gmail: list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

func gmailSearch(config map[string]any, floor time.Time) string {
	var parts []string
	if q := provider.StringField(config, "query"); q != "" {
		parts = append(parts, q)
	}
	if label := provider.StringField(config, "label"); label != "" {
		parts = append(parts, "label:"+label)
	}
	if !floor.IsZero() {
		parts = append(parts, "after:"+strconv.FormatInt(floor.Unix(), 10))
	}
	return strings.Join(parts, " ")
}

func messageRecord(msg *gmailMessage, at time.Time) provider.Record {
	subject := msg.header("Subject")
	if subject == "" {
		subject = "(no subject)"
	}
	from := msg.header("From")
	content := fmt.Sprintf("Email %q", subject)
	if from != "" {
		content += " from " + from
	}
	return provider.Record{
		ExternalID: "gmail:" + msg.ID,
		Kind:       "message",
		Content:    content,
		OccurredAt: at,
		Metadata: map[string]any{
			"message_id": msg.ID,
			"thread_id":  msg.ThreadID,
			"subject":    subject,
			"from":       from,
			"to":         msg.header("To"),
			"labels":     msg.LabelIDs,
			"snippet":    msg.Snippet,
		},
	}
}
