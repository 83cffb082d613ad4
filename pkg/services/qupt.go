package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/webhook"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/lease"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
	"github.com/ekaya-inc/zoku-engine/pkg/retry"
)

// webhookLeaseTTL bounds a delivery's hold on the source lease.
const webhookLeaseTTL = 30 * time.Second

// webhookLeaseRetry waits out a short sync before a delivery gives up with a conflict.
func webhookLeaseRetry() *retry.Config {
	return &retry.Config{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// CreateQuptRequest records one manual activity entry.
type CreateQuptRequest struct {
	Content  string         `json:"content"`
	ZokuID   *uuid.UUID     `json:"zoku_id,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WebhookResult reports what a delivery added to the activity log.
type WebhookResult struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

// QuptService is the activity log: manual entries, listing and pushed webhook events.
type QuptService interface {
	Create(ctx context.Context, entanglementID uuid.UUID, req CreateQuptRequest) (*models.Qupt, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Qupt, error)
	List(ctx context.Context, filter models.QuptFilter) ([]*models.Qupt, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// IngestWebhook verifies a signed delivery for a webhook source and appends its events.
	IngestWebhook(ctx context.Context, sourceID uuid.UUID, body []byte, signature string) (*WebhookResult, error)
}

type quptService struct {
	repo       repositories.QuptRepository
	sources    repositories.SourceRepository
	vault      CredentialVault
	locker     lease.SyncLocker
	leaseRetry *retry.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewQuptService creates a new activity log service.
func NewQuptService(
	repo repositories.QuptRepository,
	sources repositories.SourceRepository,
	vault CredentialVault,
	locker lease.SyncLocker,
	logger *zap.Logger,
) QuptService {
	return &quptService{
		repo:       repo,
		sources:    sources,
		vault:      vault,
		locker:     locker,
		leaseRetry: webhookLeaseRetry(),
		logger:     logger.Named("qupts"),
		now:        time.Now,
	}
}

var _ QuptService = (*quptService)(nil)

func (s *quptService) Create(ctx context.Context, entanglementID uuid.UUID, req CreateQuptRequest) (*models.Qupt, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", apperrors.ErrInvalidInput)
	}
	source := req.Source
	switch source {
	case "":
		source = models.QuptSourceManual
	case models.QuptSourceManual, models.QuptSourceMCP:
	default:
		return nil, fmt.Errorf("%w: source must be %q or %q", apperrors.ErrInvalidInput, models.QuptSourceManual, models.QuptSourceMCP)
	}

	q := &models.Qupt{
		EntanglementID: entanglementID,
		ZokuID:         req.ZokuID,
		Content:        content,
		Source:         source,
		Metadata:       req.Metadata,
	}
	if err := s.repo.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *quptService) Get(ctx context.Context, id uuid.UUID) (*models.Qupt, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *quptService) List(ctx context.Context, filter models.QuptFilter) ([]*models.Qupt, error) {
	filter.Normalize()
	if filter.Since != nil && filter.Until != nil && !filter.Since.Before(*filter.Until) {
		return nil, fmt.Errorf("%w: since must be before until", apperrors.ErrInvalidInput)
	}
	return s.repo.List(ctx, filter)
}

func (s *quptService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *quptService) IngestWebhook(ctx context.Context, sourceID uuid.UUID, body []byte, signature string) (*WebhookResult, error) {
	src, inlineCiphertext, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Type != models.SourceTypeWebhook {
		return nil, apperrors.NewConfigurationError("source %s is a %s source and does not accept webhooks", src.ID, src.Type)
	}
	if !src.Enabled {
		return nil, apperrors.NewConfigurationError("source %s is disabled", src.ID)
	}

	creds, err := s.vault.ResolveCredentials(ctx, src, inlineCiphertext)
	if err != nil {
		return nil, err
	}
	secret, _ := creds["secret"].(string)
	if err := webhook.VerifySignature(secret, body, signature); err != nil {
		s.logger.Warn("Rejected webhook delivery",
			zap.String("source_id", src.ID.String()),
			zap.Error(err))
		return nil, err
	}

	records, err := webhook.ParsePayload(src.ID, body, s.now())
	if err != nil {
		return nil, err
	}

	// Deliveries write sync state, so they serialize with syncs of the same source.
	token, err := s.acquireLease(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), src.ID, token); err != nil {
			s.logger.Warn("Failed to release sync lease",
				zap.String("source_id", src.ID.String()),
				zap.Error(err))
		}
	}()

	now := s.now()
	inserted, err := s.repo.BatchInsert(ctx, recordsToQupts(src, records))
	if err != nil {
		return nil, err
	}
	if err := s.sources.MarkSyncSuccess(ctx, src.ID, src.Cursor().Value, now); err != nil {
		s.logger.Warn("Failed to record webhook delivery on source",
			zap.String("source_id", src.ID.String()),
			zap.Error(err))
	}

	s.logger.Info("Webhook delivery ingested",
		zap.String("source_id", src.ID.String()),
		zap.String("summary", fmt.Sprintf("%d %s received, %d new %s",
			len(records), pluralize(len(records), "event"), inserted, pluralize(inserted, "qupt"))))
	return &WebhookResult{Received: len(records), Inserted: inserted}, nil
}

func (s *quptService) acquireLease(ctx context.Context, sourceID uuid.UUID) (string, error) {
	return retry.DoWithResult(ctx, s.leaseRetry, func() (string, error) {
		token, acquired, err := s.locker.Acquire(ctx, sourceID, webhookLeaseTTL)
		if err != nil {
			return "", err
		}
		if !acquired {
			return "", apperrors.ErrSyncInProgress
		}
		return token, nil
	})
}
