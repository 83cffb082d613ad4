package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

func TestRequireString(t *testing.T) {
	v, err := RequireString(map[string]any{"owner": "  acme "}, "owner", "github config")
	require.NoError(t, err)
	assert.Equal(t, "acme", v)

	_, err = RequireString(map[string]any{"owner": 12}, "owner", "github config")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Contains(t, err.Error(), `"owner"`)
}

func TestFloor(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	assert.Equal(t, late, Floor(early, late))
	assert.Equal(t, late, Floor(late, early))
	assert.Equal(t, early, Floor(early, time.Time{}))
}

func TestTimeCursorTracker_NeverRegresses(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	tr, err := NewTimeCursorTracker(models.Cursor{Provider: models.SourceTypeGitHub, Value: start.Format(time.RFC3339Nano)})
	require.NoError(t, err)

	tr.Observe(start.Add(-time.Hour))
	assert.Equal(t, start.Format(time.RFC3339Nano), tr.Cursor().Value)

	tr.Observe(start.Add(time.Minute))
	tr.Observe(start.Add(30 * time.Second))
	assert.Equal(t, start.Add(time.Minute).Format(time.RFC3339Nano), tr.Cursor().Value)
	assert.Equal(t, models.SourceTypeGitHub, tr.Cursor().Provider)
}

func TestTimeCursorTracker_FirstSync(t *testing.T) {
	tr, err := NewTimeCursorTracker(models.Cursor{Provider: models.SourceTypeZammad})
	require.NoError(t, err)
	assert.True(t, tr.Cursor().IsZero(), "no observations keeps a zero cursor")
}

func TestTimeCursor_Invalid(t *testing.T) {
	_, err := TimeCursor(models.Cursor{Provider: models.SourceTypeGitHub, Value: "42"})
	assert.Error(t, err)
}
