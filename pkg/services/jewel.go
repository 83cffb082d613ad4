package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
)

// CreateJewelRequest carries the fields for a new jewel.
type CreateJewelRequest struct {
	Name            string            `json:"name"`
	Type            models.SourceType `json:"type"`
	Credentials     map[string]any    `json:"credentials"`
	OwnerID         *uuid.UUID        `json:"owner_id,omitempty"`
	AllowUnverified bool              `json:"allow_unverified"`
}

// UpdateJewelRequest changes a jewel's name and/or credentials. Nil fields are left as they are.
type UpdateJewelRequest struct {
	Name            *string        `json:"name,omitempty"`
	Credentials     map[string]any `json:"credentials,omitempty"`
	AllowUnverified bool           `json:"allow_unverified"`
}

// JewelService manages reusable vault credentials.
type JewelService interface {
	Create(ctx context.Context, req CreateJewelRequest) (*models.Jewel, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Jewel, error)
	// List returns jewels of the given type, or all jewels when jewelType is empty.
	List(ctx context.Context, jewelType models.SourceType) ([]*models.Jewel, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateJewelRequest) (*models.Jewel, error)
	// Delete refuses with a JewelInUseError while any source references the jewel.
	Delete(ctx context.Context, id uuid.UUID) error
	Usage(ctx context.Context, id uuid.UUID) ([]apperrors.JewelUsage, error)
}

type jewelService struct {
	repo     repositories.JewelRepository
	vault    CredentialVault
	registry *provider.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewJewelService creates a new jewel service.
func NewJewelService(
	repo repositories.JewelRepository,
	vault CredentialVault,
	registry *provider.Registry,
	logger *zap.Logger,
) JewelService {
	return &jewelService{
		repo:     repo,
		vault:    vault,
		registry: registry,
		logger:   logger.Named("jewels"),
		now:      time.Now,
	}
}

var _ JewelService = (*jewelService)(nil)

func (s *jewelService) Create(ctx context.Context, req CreateJewelRequest) (*models.Jewel, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: jewel name is required", apperrors.ErrInvalidInput)
	}
	if !s.registry.IsRegistered(req.Type) {
		return nil, apperrors.NewConfigurationError("unknown source type %q", req.Type)
	}
	if len(req.Credentials) == 0 {
		return nil, apperrors.NewCredentialError(nil, "jewel credentials are required")
	}

	metadata, err := s.vault.Verify(ctx, req.Type, req.Credentials, nil, req.AllowUnverified)
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.vault.EncryptCredentials(req.Credentials)
	if err != nil {
		return nil, err
	}

	jewel := &models.Jewel{
		Name:               name,
		Type:               req.Type,
		OwnerID:            req.OwnerID,
		ValidationMetadata: metadata,
	}
	if metadata != nil {
		now := s.now()
		jewel.LastValidated = &now
	}

	if err := s.repo.Create(ctx, jewel, ciphertext); err != nil {
		return nil, err
	}

	s.logger.Info("Created jewel",
		zap.String("jewel_id", jewel.ID.String()),
		zap.String("type", string(jewel.Type)))
	return jewel, nil
}

func (s *jewelService) Get(ctx context.Context, id uuid.UUID) (*models.Jewel, error) {
	jewel, _, err := s.repo.GetByID(ctx, id)
	return jewel, err
}

func (s *jewelService) List(ctx context.Context, jewelType models.SourceType) ([]*models.Jewel, error) {
	if jewelType != "" && !models.IsValidSourceType(string(jewelType)) {
		return nil, fmt.Errorf("%w: unknown jewel type %q", apperrors.ErrInvalidInput, jewelType)
	}
	return s.repo.List(ctx, jewelType)
}

func (s *jewelService) Update(ctx context.Context, id uuid.UUID, req UpdateJewelRequest) (*models.Jewel, error) {
	jewel, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: jewel name is required", apperrors.ErrInvalidInput)
		}
		jewel.Name = name
	}

	var ciphertext *string
	if req.Credentials != nil {
		metadata, err := s.vault.Verify(ctx, jewel.Type, req.Credentials, nil, req.AllowUnverified)
		if err != nil {
			return nil, err
		}
		encrypted, err := s.vault.EncryptCredentials(req.Credentials)
		if err != nil {
			return nil, err
		}
		ciphertext = &encrypted
		jewel.ValidationMetadata = metadata
		if metadata != nil {
			now := s.now()
			jewel.LastValidated = &now
		}
	}

	if err := s.repo.Update(ctx, jewel, ciphertext); err != nil {
		return nil, err
	}
	s.logger.Info("Updated jewel",
		zap.String("jewel_id", jewel.ID.String()),
		zap.Bool("credentials_replaced", ciphertext != nil))
	return jewel, nil
}

func (s *jewelService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}

	usage, err := s.vault.CanDelete(ctx, id)
	if err != nil {
		return err
	}
	if len(usage) > 0 {
		return &apperrors.JewelInUseError{Usage: usage}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted jewel", zap.String("jewel_id", id.String()))
	return nil
}

func (s *jewelService) Usage(ctx context.Context, id uuid.UUID) ([]apperrors.JewelUsage, error) {
	if _, _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.vault.CanDelete(ctx, id)
}
