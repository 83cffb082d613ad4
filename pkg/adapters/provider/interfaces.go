// Package provider defines the collector contract shared by every external
// provider and the registry that maps a source type to its implementation.
package provider

import (
	"context"
	"time"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// Record is one unit of activity fetched from a provider.
type Record struct {
	// ExternalID is stable for a given provider event; re-fetching the same
	// event must yield the same ExternalID so ingestion stays idempotent.
	ExternalID string
	// Kind names what the record describes, e.g. "issue" or "revision".
	Kind       string
	Content    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// CollectRequest carries everything a collector needs for one fetch.
type CollectRequest struct {
	Source      *models.Source
	Config      map[string]any
	Credentials map[string]any
	// Since is the inclusive lower bound on event time.
	Since time.Time
	// Cursor is the provider-owned bookmark from the last successful sync.
	Cursor models.Cursor
}

// CollectResult is the outcome of a fetch. Cursor is the most advanced
// position seen across the whole batch, including filtered items.
type CollectResult struct {
	Records []Record
	Cursor  models.Cursor
	// Truncated reports that the collector stopped at its page cap with more
	// items pending. The next fetch must resume from Cursor, not from the
	// attempt time.
	Truncated bool
}

// Collector fetches new records for one provider type.
// An unreachable provider is an error, never an empty result.
type Collector interface {
	Collect(ctx context.Context, req CollectRequest) (*CollectResult, error)
}

// Validator performs a live check of credentials against the provider.
// A returned error means the check itself could not run; rejected credentials
// are reported through ValidationResult.Valid.
type Validator interface {
	Validate(ctx context.Context, credentials, config map[string]any) (*models.ValidationResult, error)
}
