package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrJewelInUse     = errors.New("jewel is in use by one or more sources")
	ErrSyncInProgress = errors.New("a sync is already in progress for this source")
	ErrSourceDisabled = errors.New("source is disabled")
)

// SyncErrorKind classifies why a sync attempt (or a credential operation) failed.
type SyncErrorKind string

const (
	// KindConfiguration covers unknown provider types and jewel/source type mismatches.
	// Not retried automatically.
	KindConfiguration SyncErrorKind = "configuration"
	// KindCredential covers decryption and validation failures.
	KindCredential SyncErrorKind = "credential"
	// KindProvider covers failed or non-success calls to the external provider.
	KindProvider SyncErrorKind = "provider"
	// KindTimeout is a collection that exceeded its deadline. Treated like KindProvider
	// for sync state.
	KindTimeout SyncErrorKind = "timeout"
)

// SyncError is the error type returned by the sync engine and the credential vault.
type SyncError struct {
	Kind    SyncErrorKind
	Message string
	// Details holds per-field validation errors when Kind is KindCredential.
	Details []string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a configuration SyncError.
func NewConfigurationError(format string, args ...any) *SyncError {
	return &SyncError{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewCredentialError creates a credential SyncError wrapping err (may be nil).
func NewCredentialError(err error, message string, details ...string) *SyncError {
	return &SyncError{Kind: KindCredential, Message: message, Details: details, Err: err}
}

// NewProviderError creates a provider SyncError wrapping err.
func NewProviderError(err error, message string) *SyncError {
	return &SyncError{Kind: KindProvider, Message: message, Err: err}
}

// NewTimeoutError creates a timeout SyncError.
func NewTimeoutError(message string) *SyncError {
	return &SyncError{Kind: KindTimeout, Message: message}
}

// IsKind reports whether err (or anything it wraps) is a SyncError of the given kind.
func IsKind(err error, kind SyncErrorKind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf returns the SyncErrorKind of err, or "" when err is not a SyncError.
func KindOf(err error) SyncErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// JewelInUseError reports the sources that still reference a jewel.
type JewelInUseError struct {
	Usage []JewelUsage
}

// JewelUsage identifies one source referencing a jewel.
type JewelUsage struct {
	SourceID       string `json:"source_id"`
	SourceType     string `json:"source_type"`
	EntanglementID string `json:"entanglement_id"`
}

func (e *JewelInUseError) Error() string {
	return fmt.Sprintf("%s (%d)", ErrJewelInUse.Error(), len(e.Usage))
}

func (e *JewelInUseError) Unwrap() error {
	return ErrJewelInUse
}
