package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/lease"
	"github.com/ekaya-inc/zoku-engine/pkg/logging"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
)

// TriggerOptions describes who started a sync.
type TriggerOptions struct {
	// Manual syncs are user initiated and refused for disabled sources.
	Manual bool
}

// SyncService runs one sync attempt per call.
type SyncService interface {
	TriggerSync(ctx context.Context, sourceID uuid.UUID, opts TriggerOptions) (*models.SourceSyncResult, error)
}

// SyncOptions tunes the orchestrator.
type SyncOptions struct {
	CollectTimeout time.Duration
	LeaseTTL       time.Duration
}

type syncService struct {
	sources  repositories.SourceRepository
	qupts    repositories.QuptRepository
	vault    CredentialVault
	registry *provider.Registry
	locker   lease.SyncLocker
	opts     SyncOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewSyncService creates the sync orchestrator.
func NewSyncService(
	sources repositories.SourceRepository,
	qupts repositories.QuptRepository,
	vault CredentialVault,
	registry *provider.Registry,
	locker lease.SyncLocker,
	opts SyncOptions,
	logger *zap.Logger,
) SyncService {
	if opts.CollectTimeout <= 0 {
		opts.CollectTimeout = 25 * time.Second
	}
	if opts.LeaseTTL <= opts.CollectTimeout {
		opts.LeaseTTL = opts.CollectTimeout + time.Minute
	}
	return &syncService{
		sources:  sources,
		qupts:    qupts,
		vault:    vault,
		registry: registry,
		locker:   locker,
		opts:     opts,
		logger:   logger.Named("sync"),
		now:      time.Now,
	}
}

var _ SyncService = (*syncService)(nil)

type collectOutcome struct {
	result *provider.CollectResult
	err    error
}

func (s *syncService) TriggerSync(ctx context.Context, sourceID uuid.UUID, opts TriggerOptions) (*models.SourceSyncResult, error) {
	src, inlineCiphertext, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	collector, ok := s.registry.Collector(src.Type)
	if !ok {
		return nil, apperrors.NewConfigurationError("no provider registered for source type %q", src.Type)
	}
	if !src.Enabled {
		if opts.Manual {
			return nil, apperrors.NewConfigurationError("source %s is disabled", src.ID)
		}
		return nil, apperrors.ErrSourceDisabled
	}

	token, acquired, err := s.locker.Acquire(ctx, src.ID, s.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperrors.ErrSyncInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), src.ID, token); err != nil {
			s.logger.Warn("Failed to release sync lease",
				zap.String("source_id", src.ID.String()),
				zap.Error(err))
		}
	}()

	startedAt := s.now()
	logger := s.logger.With(
		zap.String("source_id", src.ID.String()),
		zap.String("type", string(src.Type)),
		zap.Bool("manual", opts.Manual))

	// Resolving
	creds, err := s.vault.ResolveCredentials(ctx, src, inlineCiphertext)
	if err != nil {
		return nil, s.fail(ctx, src, err, logger)
	}

	// Collecting
	req := provider.CollectRequest{
		Source:      src,
		Config:      src.Config,
		Credentials: creds,
		Since:       src.Since(startedAt),
		Cursor:      src.Cursor(),
	}
	result, err := s.collect(ctx, collector, req)
	if err != nil {
		return nil, s.fail(ctx, src, err, logger)
	}
	if result.Cursor.Provider != src.Type {
		err := apperrors.NewConfigurationError("collector returned a %q cursor for a %s source", result.Cursor.Provider, src.Type)
		return nil, s.fail(ctx, src, err, logger)
	}

	// Committing
	inserted, err := s.qupts.BatchInsert(ctx, recordsToQupts(src, result.Records))
	if err != nil {
		return nil, s.fail(ctx, src, fmt.Errorf("failed to store records: %w", err), logger)
	}
	// A truncated fetch keeps the old lower bound so the next attempt resumes
	// from the cursor instead of skipping ahead to this attempt's start.
	syncedAt := startedAt
	if result.Truncated {
		syncedAt = req.Since
	}
	if err := s.sources.MarkSyncSuccess(ctx, src.ID, result.Cursor.Value, syncedAt); err != nil {
		return nil, fmt.Errorf("failed to record sync success: %w", err)
	}

	summary := summarize(result.Records, inserted)
	logger.Info("Sync complete",
		zap.String("summary", summary),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", s.now().Sub(startedAt)))

	return &models.SourceSyncResult{
		SourceID:         src.ID,
		RecordsCollected: len(result.Records),
		RecordsInserted:  inserted,
		Cursor:           result.Cursor.Value,
		SyncedAt:         syncedAt,
		Truncated:        result.Truncated,
		Summary:          summary,
	}, nil
}

// collect runs the collector under the collect timeout. On expiry the
// collector's late result is discarded.
func (s *syncService) collect(ctx context.Context, collector provider.Collector, req provider.CollectRequest) (*provider.CollectResult, error) {
	collectCtx, cancel := context.WithTimeout(ctx, s.opts.CollectTimeout)
	defer cancel()

	done := make(chan collectOutcome, 1)
	go func() {
		result, err := collector.Collect(collectCtx, req)
		done <- collectOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, s.timeoutError()
			}
			return nil, classifyCollectError(out.err)
		}
		if out.result == nil {
			return nil, apperrors.NewProviderError(nil, "collector returned no result")
		}
		return out.result, nil
	case <-collectCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, s.timeoutError()
	}
}

func (s *syncService) timeoutError() error {
	return apperrors.NewTimeoutError(fmt.Sprintf("sync timed out after %s", s.opts.CollectTimeout))
}

func classifyCollectError(err error) error {
	var se *apperrors.SyncError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if provider.IsUnauthorized(err) {
		return apperrors.NewCredentialError(err, "provider rejected the credentials")
	}
	return apperrors.NewProviderError(err, "collect failed")
}

// fail records the error on the source and returns it unchanged. An attempt
// abandoned by its caller is not a source failure and leaves state untouched.
func (s *syncService) fail(ctx context.Context, src *models.Source, cause error, logger *zap.Logger) error {
	if ctx.Err() != nil && !apperrors.IsKind(cause, apperrors.KindTimeout) {
		logger.Info("Sync abandoned by caller", zap.Error(ctx.Err()))
		return cause
	}
	message := logging.SanitizeSyncError(cause)
	if err := s.sources.MarkSyncFailure(context.WithoutCancel(ctx), src.ID, message, s.now()); err != nil {
		logger.Error("Failed to record sync failure", zap.Error(err))
	}
	logger.Warn("Sync failed",
		zap.String("kind", string(apperrors.KindOf(cause))),
		zap.Int("error_count", src.ErrorCount+1),
		zap.String("error", message))
	return cause
}

// recordsToQupts maps collected records onto the source's entanglement.
func recordsToQupts(src *models.Source, records []provider.Record) []*models.Qupt {
	qupts := make([]*models.Qupt, 0, len(records))
	for _, rec := range records {
		metadata := make(map[string]any, len(rec.Metadata)+1)
		for k, v := range rec.Metadata {
			metadata[k] = v
		}
		metadata["source_id"] = src.ID.String()

		q := &models.Qupt{
			EntanglementID: src.EntanglementID,
			Content:        rec.Content,
			Source:         string(src.Type),
			Metadata:       metadata,
			CreatedAt:      rec.OccurredAt,
		}
		if rec.ExternalID != "" {
			id := rec.ExternalID
			q.ExternalID = &id
		}
		qupts = append(qupts, q)
	}
	return qupts
}

// summarize describes a batch by record kind, e.g.
// "2 issues and 1 pull request collected, 3 new qupts".
func summarize(records []provider.Record, inserted int) string {
	counts := make(map[string]int)
	var kinds []string
	for _, rec := range records {
		kind := rec.Kind
		if kind == "" {
			kind = "record"
		}
		if counts[kind] == 0 {
			kinds = append(kinds, kind)
		}
		counts[kind]++
	}
	sort.Strings(kinds)

	collected := "0 records"
	if len(kinds) > 0 {
		parts := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			parts = append(parts, countNoun(counts[kind], kind))
		}
		collected = joinWords(parts)
	}
	return fmt.Sprintf("%s collected, %d new %s", collected, inserted, pluralize(inserted, "qupt"))
}

// countNoun renders n with a kind such as "pull_request" as "3 pull requests".
func countNoun(n int, kind string) string {
	return fmt.Sprintf("%d %s", n, pluralize(n, strings.ReplaceAll(kind, "_", " ")))
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return inflection.Plural(word)
}

func joinWords(parts []string) string {
	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
