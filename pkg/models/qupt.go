package models

import (
	"time"

	"github.com/google/uuid"
)

// Origin tags for qupts that do not come from a provider.
const (
	QuptSourceManual = "manual"
	QuptSourceMCP    = "mcp"
)

// Qupt is one unit of ingested or manually recorded activity.
type Qupt struct {
	ID             uuid.UUID      `json:"id"`
	EntanglementID uuid.UUID      `json:"entanglement_id"`
	ZokuID         *uuid.UUID     `json:"zoku_id,omitempty"`
	Content        string         `json:"content"`
	Source         string         `json:"source"`
	ExternalID     *string        `json:"external_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// QuptFilter selects qupts for listing.
type QuptFilter struct {
	EntanglementID     uuid.UUID
	IncludeDescendants bool
	Source             string
	Since              *time.Time
	Until              *time.Time
	Limit              int
	Offset             int
}

const (
	DefaultQuptLimit = 50
	MaxQuptLimit     = 500
)

// Normalize clamps Limit and Offset to their allowed ranges.
func (f *QuptFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultQuptLimit
	}
	if f.Limit > MaxQuptLimit {
		f.Limit = MaxQuptLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
