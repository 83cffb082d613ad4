// Package webhook implements the push-only source type. Events are delivered to
// the engine over HTTP and signed with the source's shared secret.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the raw body>".
	SignatureHeader = "X-Zoku-Signature"
	signaturePrefix = "sha256="

	// MaxEventsPerDelivery bounds a single delivery.
	MaxEventsPerDelivery = 500
)

// Collector satisfies the collector contract for a push-only source: there is
// nothing to pull, so it returns no records and the incoming cursor.
type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

var _ provider.Collector = (*Collector)(nil)

func (c *Collector) Collect(_ context.Context, req provider.CollectRequest) (*provider.CollectResult, error) {
	return &provider.CollectResult{Cursor: req.Cursor}, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of body.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return apperrors.NewConfigurationError("webhook source has no secret")
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return apperrors.NewCredentialError(nil, "missing or malformed "+SignatureHeader+" header")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return apperrors.NewCredentialError(nil, "malformed "+SignatureHeader+" header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperrors.NewCredentialError(nil, "signature mismatch")
	}
	return nil
}

// Event is one pushed activity item.
type Event struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt *time.Time     `json:"occurred_at"`
}

type envelope struct {
	Events []Event `json:"events"`
}

// ParsePayload decodes a delivery. The body is either a single event object or
// {"events": [...]}. Events without an id get no external id and are never
// deduplicated.
func ParsePayload(sourceID uuid.UUID, body []byte, now time.Time) ([]provider.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty webhook payload", apperrors.ErrInvalidInput)
	}

	var events []Event
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: webhook payload is not valid JSON: %v", apperrors.ErrInvalidInput, err)
	}
	if env.Events != nil {
		events = env.Events
	} else {
		var single Event
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("%w: webhook payload is not valid JSON: %v", apperrors.ErrInvalidInput, err)
		}
		events = []Event{single}
	}

	if len(events) > MaxEventsPerDelivery {
		return nil, fmt.Errorf("%w: %d events exceeds the limit of %d per delivery",
			apperrors.ErrInvalidInput, len(events), MaxEventsPerDelivery)
	}

	records := make([]provider.Record, 0, len(events))
	for i, ev := range events {
		content := strings.TrimSpace(ev.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: event %d has no content", apperrors.ErrInvalidInput, i)
		}
		rec := provider.Record{
			Kind:       "event",
			Content:    content,
			Metadata:   ev.Metadata,
			OccurredAt: now,
		}
		if ev.OccurredAt != nil {
			rec.OccurredAt = *ev.OccurredAt
		}
		if id := strings.TrimSpace(ev.ID); id != "" {
			rec.ExternalID = fmt.Sprintf("webhook:%s:%s", sourceID, id)
		}
		records = append(records, rec)
	}
	return records, nil
}
