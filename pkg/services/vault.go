package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/crypto"
	"github.com/ekaya-inc/zoku-engine/pkg/logging"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
)

// CredentialVault owns credential encryption, live validation and resolution
// of the credentials a source should sync with.
type CredentialVault interface {
	EncryptCredentials(creds map[string]any) (string, error)

	// DecryptCredentials returns a CredentialError when the ciphertext cannot be opened.
	DecryptCredentials(ciphertext string) (map[string]any, error)

	// Validate runs the provider's live check. Unknown types and providers
	// without a validator return (nil, nil).
	Validate(ctx context.Context, sourceType models.SourceType, creds, config map[string]any) (*models.ValidationResult, error)

	// Verify validates creds and turns the outcome into validation metadata for
	// storage. A rejected credential always fails. A validator that could not
	// run fails unless allowUnverified is set.
	Verify(ctx context.Context, sourceType models.SourceType, creds, config map[string]any, allowUnverified bool) (map[string]any, error)

	// ResolveCredentials returns the plaintext credentials for src. Inline
	// credentials take precedence over a jewel; neither yields nil.
	ResolveCredentials(ctx context.Context, src *models.Source, inlineCiphertext string) (map[string]any, error)

	// CanDelete lists the sources that still reference the jewel.
	CanDelete(ctx context.Context, jewelID uuid.UUID) ([]apperrors.JewelUsage, error)
}

type credentialVault struct {
	encryptor *crypto.CredentialEncryptor
	registry  *provider.Registry
	jewels    repositories.JewelRepository
	sources   repositories.SourceRepository
	logger    *zap.Logger
}

// NewCredentialVault creates the credential vault.
func NewCredentialVault(
	encryptor *crypto.CredentialEncryptor,
	registry *provider.Registry,
	jewels repositories.JewelRepository,
	sources repositories.SourceRepository,
	logger *zap.Logger,
) CredentialVault {
	return &credentialVault{
		encryptor: encryptor,
		registry:  registry,
		jewels:    jewels,
		sources:   sources,
		logger:    logger.Named("vault"),
	}
}

var _ CredentialVault = (*credentialVault)(nil)

func (v *credentialVault) EncryptCredentials(creds map[string]any) (string, error) {
	ciphertext, err := v.encryptor.EncryptJSON(creds)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return ciphertext, nil
}

func (v *credentialVault) DecryptCredentials(ciphertext string) (map[string]any, error) {
	creds, err := v.encryptor.DecryptJSON(ciphertext)
	if err != nil {
		return nil, apperrors.NewCredentialError(err, "failed to decrypt credentials")
	}
	return creds, nil
}

func (v *credentialVault) Validate(ctx context.Context, sourceType models.SourceType, creds, config map[string]any) (*models.ValidationResult, error) {
	validator, ok := v.registry.Validator(sourceType)
	if !ok {
		return nil, nil
	}
	return validator.Validate(ctx, creds, config)
}

func (v *credentialVault) Verify(ctx context.Context, sourceType models.SourceType, creds, config map[string]any, allowUnverified bool) (map[string]any, error) {
	if entry, ok := v.registry.Catalog(sourceType); ok {
		if missing := entry.MissingCredentials(creds); len(missing) > 0 {
			details := make([]string, 0, len(missing))
			for _, name := range missing {
				details = append(details, fmt.Sprintf("%s is required", name))
			}
			return nil, apperrors.NewCredentialError(nil, "credentials are incomplete", details...)
		}
	}

	result, err := v.Validate(ctx, sourceType, creds, config)
	if err != nil {
		if !allowUnverified {
			return nil, apperrors.NewCredentialError(err, "credential validation could not complete")
		}
		v.logger.Warn("Storing unverified credentials",
			zap.String("type", string(sourceType)),
			zap.String("error", logging.SanitizeError(err)))
		return map[string]any{
			"verified":         false,
			"validation_error": logging.SanitizeSyncError(err),
		}, nil
	}
	if result == nil {
		return nil, nil
	}
	if !result.Valid {
		return nil, apperrors.NewCredentialError(nil, "credentials were rejected by the provider", result.Errors...)
	}

	metadata := map[string]any{"verified": true}
	for k, val := range result.Metadata {
		metadata[k] = val
	}
	if len(result.Warnings) > 0 {
		metadata["warnings"] = result.Warnings
	}
	return metadata, nil
}

func (v *credentialVault) ResolveCredentials(ctx context.Context, src *models.Source, inlineCiphertext string) (map[string]any, error) {
	if inlineCiphertext != "" {
		return v.DecryptCredentials(inlineCiphertext)
	}
	if src.JewelID == nil {
		return nil, nil
	}

	jewel, ciphertext, err := v.jewels.GetByID(ctx, *src.JewelID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewConfigurationError("jewel %s referenced by source %s does not exist", *src.JewelID, src.ID)
		}
		return nil, fmt.Errorf("failed to load jewel: %w", err)
	}
	if jewel.Type != src.Type {
		return nil, apperrors.NewConfigurationError("jewel %s holds %s credentials but source %s is %s",
			jewel.ID, jewel.Type, src.ID, src.Type)
	}
	return v.DecryptCredentials(ciphertext)
}

func (v *credentialVault) CanDelete(ctx context.Context, jewelID uuid.UUID) ([]apperrors.JewelUsage, error) {
	sources, err := v.sources.ListByJewel(ctx, jewelID)
	if err != nil {
		return nil, err
	}
	usage := make([]apperrors.JewelUsage, 0, len(sources))
	for _, src := range sources {
		usage = append(usage, apperrors.JewelUsage{
			SourceID:       src.ID.String(),
			SourceType:     string(src.Type),
			EntanglementID: src.EntanglementID.String(),
		})
	}
	return usage, nil
}
