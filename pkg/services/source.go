package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
)

// CreateSourceRequest carries the fields for a new source. Credentials and
// JewelID may both be set; inline credentials win at sync time.
type CreateSourceRequest struct {
	Type            models.SourceType `json:"type"`
	Config          map[string]any    `json:"config"`
	Credentials     map[string]any    `json:"credentials,omitempty"`
	JewelID         *uuid.UUID        `json:"jewel_id,omitempty"`
	Enabled         *bool             `json:"enabled,omitempty"`
	AllowUnverified bool              `json:"allow_unverified"`
}

// UpdateSourceRequest changes a source. Nil fields are left as they are.
// An empty, non-nil Credentials map removes the inline credentials.
type UpdateSourceRequest struct {
	Config          map[string]any `json:"config,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	Credentials     map[string]any `json:"credentials,omitempty"`
	JewelID         *uuid.UUID     `json:"jewel_id,omitempty"`
	ClearJewel      bool           `json:"clear_jewel"`
	AllowUnverified bool           `json:"allow_unverified"`
}

// SourceService manages source configuration. Sync state is owned by the
// SyncService and never written here.
type SourceService interface {
	Create(ctx context.Context, entanglementID uuid.UUID, req CreateSourceRequest) (*models.Source, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Source, error)
	ListByEntanglement(ctx context.Context, entanglementID uuid.UUID) ([]*models.Source, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateSourceRequest) (*models.Source, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type sourceService struct {
	repo     repositories.SourceRepository
	jewels   repositories.JewelRepository
	vault    CredentialVault
	registry *provider.Registry
	backfill time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSourceService creates a new source service. backfill bounds how far back
// the first sync of a new source reaches.
func NewSourceService(
	repo repositories.SourceRepository,
	jewels repositories.JewelRepository,
	vault CredentialVault,
	registry *provider.Registry,
	backfill time.Duration,
	logger *zap.Logger,
) SourceService {
	if backfill <= 0 {
		backfill = models.DefaultBackfillWindow
	}
	return &sourceService{
		repo:     repo,
		jewels:   jewels,
		vault:    vault,
		registry: registry,
		backfill: backfill,
		logger:   logger.Named("sources"),
		now:      time.Now,
	}
}

var _ SourceService = (*sourceService)(nil)

func (s *sourceService) Create(ctx context.Context, entanglementID uuid.UUID, req CreateSourceRequest) (*models.Source, error) {
	catalog, ok := s.registry.Catalog(req.Type)
	if !ok {
		return nil, apperrors.NewConfigurationError("unknown source type %q", req.Type)
	}
	if req.Config == nil {
		req.Config = map[string]any{}
	}
	if err := catalog.ValidateConfig(req.Config); err != nil {
		return nil, err
	}

	if req.JewelID != nil {
		if err := s.checkJewel(ctx, *req.JewelID, req.Type); err != nil {
			return nil, err
		}
	}

	var ciphertext string
	switch {
	case len(req.Credentials) > 0:
		if _, err := s.vault.Verify(ctx, req.Type, req.Credentials, req.Config, req.AllowUnverified); err != nil {
			return nil, err
		}
		encrypted, err := s.vault.EncryptCredentials(req.Credentials)
		if err != nil {
			return nil, err
		}
		ciphertext = encrypted
	case req.JewelID == nil:
		if missing := catalog.MissingCredentials(nil); len(missing) > 0 {
			return nil, apperrors.NewCredentialError(nil, fmt.Sprintf("%s sources need credentials or a jewel", req.Type))
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	lastSync := s.now().Add(-s.backfill)

	src := &models.Source{
		EntanglementID: entanglementID,
		Type:           req.Type,
		Config:         req.Config,
		JewelID:        req.JewelID,
		Enabled:        enabled,
		LastSync:       &lastSync,
	}
	if err := s.repo.Create(ctx, src, ciphertext); err != nil {
		return nil, err
	}

	s.logger.Info("Created source",
		zap.String("source_id", src.ID.String()),
		zap.String("entanglement_id", entanglementID.String()),
		zap.String("type", string(src.Type)),
		zap.Bool("inline_credentials", ciphertext != ""),
		zap.Bool("jewel", src.JewelID != nil))
	return src, nil
}

func (s *sourceService) checkJewel(ctx context.Context, jewelID uuid.UUID, sourceType models.SourceType) error {
	jewel, _, err := s.jewels.GetByID(ctx, jewelID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NewConfigurationError("jewel %s does not exist", jewelID)
		}
		return err
	}
	if jewel.Type != sourceType {
		return apperrors.NewConfigurationError("jewel %s holds %s credentials, not %s", jewelID, jewel.Type, sourceType)
	}
	return nil
}

func (s *sourceService) Get(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	src, _, err := s.repo.GetByID(ctx, id)
	return src, err
}

func (s *sourceService) ListByEntanglement(ctx context.Context, entanglementID uuid.UUID) ([]*models.Source, error) {
	return s.repo.ListByEntanglement(ctx, entanglementID)
}

func (s *sourceService) Update(ctx context.Context, id uuid.UUID, req UpdateSourceRequest) (*models.Source, error) {
	src, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	catalog, ok := s.registry.Catalog(src.Type)
	if !ok {
		return nil, apperrors.NewConfigurationError("unknown source type %q", src.Type)
	}

	if req.Config != nil {
		if err := catalog.ValidateConfig(req.Config); err != nil {
			return nil, err
		}
		src.Config = req.Config
	}
	if req.Enabled != nil {
		src.Enabled = *req.Enabled
	}

	switch {
	case req.ClearJewel:
		src.JewelID = nil
	case req.JewelID != nil:
		if err := s.checkJewel(ctx, *req.JewelID, src.Type); err != nil {
			return nil, err
		}
		src.JewelID = req.JewelID
	}

	var ciphertext *string
	if req.Credentials != nil {
		encrypted := ""
		if len(req.Credentials) > 0 {
			if _, err := s.vault.Verify(ctx, src.Type, req.Credentials, src.Config, req.AllowUnverified); err != nil {
				return nil, err
			}
			if encrypted, err = s.vault.EncryptCredentials(req.Credentials); err != nil {
				return nil, err
			}
		}
		ciphertext = &encrypted
	}

	if err := s.repo.Update(ctx, src, ciphertext); err != nil {
		return nil, err
	}

	s.logger.Info("Updated source",
		zap.String("source_id", src.ID.String()),
		zap.Bool("enabled", src.Enabled),
		zap.Bool("credentials_replaced", ciphertext != nil))
	return src, nil
}

func (s *sourceService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted source", zap.String("source_id", id.String()))
	return nil
}
