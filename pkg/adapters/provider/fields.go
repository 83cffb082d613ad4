package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// StringField returns m[key] as a trimmed string, or "" when absent or not a string.
func StringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// RequireString returns m[key] or a ConfigurationError naming the missing field.
func RequireString(m map[string]any, key, what string) (string, error) {
	v := StringField(m, key)
	if v == "" {
		return "", apperrors.NewConfigurationError("%s %q is required", what, key)
	}
	return v, nil
}

// TimeCursor interprets a cursor holding an RFC3339 timestamp.
// A zero cursor yields the zero time.
func TimeCursor(c models.Cursor) (time.Time, error) {
	if c.IsZero() {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, c.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s cursor %q: %w", c.Provider, c.Value, err)
	}
	return t, nil
}

// Floor returns the later of since and the cursor position.
func Floor(since, cursor time.Time) time.Time {
	if cursor.After(since) {
		return cursor
	}
	return since
}

// TimeCursorTracker keeps the maximum timestamp observed during a collect.
// It starts at the incoming cursor so the result never regresses.
type TimeCursorTracker struct {
	provider models.SourceType
	max      time.Time
	raw      string
}

// NewTimeCursorTracker starts tracking from the given cursor.
func NewTimeCursorTracker(c models.Cursor) (*TimeCursorTracker, error) {
	t, err := TimeCursor(c)
	if err != nil {
		return nil, err
	}
	return &TimeCursorTracker{provider: c.Provider, max: t, raw: c.Value}, nil
}

// Observe records t if it is later than anything seen so far.
func (tr *TimeCursorTracker) Observe(t time.Time) {
	if t.After(tr.max) {
		tr.max = t
		tr.raw = t.UTC().Format(time.RFC3339Nano)
	}
}

// Cursor returns the most advanced position seen.
func (tr *TimeCursorTracker) Cursor() models.Cursor {
	return models.Cursor{Provider: tr.provider, Value: tr.raw}
}

// Invalid builds a failed ValidationResult.
func Invalid(errs ...string) *models.ValidationResult {
	return &models.ValidationResult{Valid: false, Errors: errs}
}

// IsUnauthorized reports whether err carries a 401 or 403 provider response.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.IsUnauthorized()
}
