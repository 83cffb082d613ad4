package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType is the provider tag of a Source.
type SourceType string

const (
	SourceTypeGitHub  SourceType = "github"
	SourceTypeZammad  SourceType = "zammad"
	SourceTypeGDocs   SourceType = "gdocs"
	SourceTypeGDrive  SourceType = "gdrive"
	SourceTypeGmail   SourceType = "gmail"
	SourceTypeWebhook SourceType = "webhook"
)

// ValidSourceTypes contains every provider tag the engine knows about.
var ValidSourceTypes = []SourceType{
	SourceTypeGitHub,
	SourceTypeZammad,
	SourceTypeGDocs,
	SourceTypeGDrive,
	SourceTypeGmail,
	SourceTypeWebhook,
}

// IsValidSourceType checks if the given tag names a known provider.
func IsValidSourceType(t string) bool {
	for _, v := range ValidSourceTypes {
		if string(v) == t {
			return true
		}
	}
	return false
}

// DefaultBackfillWindow bounds how far back the first sync of a new Source reaches.
const DefaultBackfillWindow = 30 * 24 * time.Hour

// Source is a configured connection to an external provider.
// The encrypted inline credential blob is never part of this struct; repositories
// return it separately so it cannot leak through JSON responses.
type Source struct {
	ID             uuid.UUID      `json:"id"`
	EntanglementID uuid.UUID      `json:"entanglement_id"`
	Type           SourceType     `json:"type"`
	Config         map[string]any `json:"config"`
	JewelID        *uuid.UUID     `json:"jewel_id,omitempty"`
	HasCredentials bool           `json:"has_credentials"`
	Enabled        bool           `json:"enabled"`
	LastSync       *time.Time     `json:"last_sync,omitempty"`
	SyncCursor     *string        `json:"sync_cursor,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	ErrorCount     int            `json:"error_count"`
	LastErrorAt    *time.Time     `json:"last_error_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Cursor returns the source's persisted cursor tagged with its provider.
func (s *Source) Cursor() Cursor {
	if s.SyncCursor == nil {
		return Cursor{Provider: s.Type}
	}
	return Cursor{Provider: s.Type, Value: *s.SyncCursor}
}

// Since returns the inclusive lower bound for the next fetch.
// A Source without last_sync (rows predating the backfill rule) falls back to the
// default backfill window so history is never unbounded.
func (s *Source) Since(now time.Time) time.Time {
	if s.LastSync != nil {
		return *s.LastSync
	}
	return now.Add(-DefaultBackfillWindow)
}

// Cursor is an opaque per-provider bookmark. Value is owned by the collector
// that produced it and must only be interpreted by collectors of the same Provider.
type Cursor struct {
	Provider SourceType
	Value    string
}

// IsZero reports whether the cursor marks a first sync.
func (c Cursor) IsZero() bool {
	return c.Value == ""
}

// SourceSyncResult is the outcome of one successful sync attempt.
type SourceSyncResult struct {
	SourceID         uuid.UUID `json:"source_id"`
	RecordsCollected int       `json:"records_collected"`
	RecordsInserted  int       `json:"records_inserted"`
	Cursor           string    `json:"cursor,omitempty"`
	SyncedAt         time.Time `json:"synced_at"`
	// Truncated means the provider had more items than one sync fetches;
	// the next sync continues from Cursor.
	Truncated        bool      `json:"truncated,omitempty"`
	Summary          string    `json:"summary"`
}
