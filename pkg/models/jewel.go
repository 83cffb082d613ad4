package models

import (
	"time"

	"github.com/google/uuid"
)

// Jewel is a reusable, vault-held credential. Its ciphertext is stored alongside
// the row but is never loaded into this struct.
type Jewel struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	Type               SourceType     `json:"type"`
	OwnerID            *uuid.UUID     `json:"owner_id,omitempty"`
	ValidationMetadata map[string]any `json:"validation_metadata,omitempty"`
	LastValidated      *time.Time     `json:"last_validated,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ValidationResult is the outcome of a live provider credential check.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
