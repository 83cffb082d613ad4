package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/database"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
)

// SyncRunSummary counts the outcomes of one pass over the enabled sources.
type SyncRunSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Inserted  int `json:"inserted"`
}

// Scheduler syncs every enabled source on an interval. A failing source is
// logged and the pass continues.
type Scheduler struct {
	sources     repositories.SourceRepository
	sync        SyncService
	scopes      database.ScopeProvider
	concurrency int
	interval    time.Duration
	logger      *zap.Logger
}

// NewScheduler creates a scheduler. An interval of zero disables Run.
func NewScheduler(
	sources repositories.SourceRepository,
	syncService SyncService,
	scopes database.ScopeProvider,
	concurrency int,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		sources:     sources,
		sync:        syncService,
		scopes:      scopes,
		concurrency: concurrency,
		interval:    interval,
		logger:      logger.Named("scheduler"),
	}
}

// SyncAll runs one sync per enabled source with at most concurrency in flight.
// Only a failure to list sources is returned as an error.
func (s *Scheduler) SyncAll(ctx context.Context) (SyncRunSummary, error) {
	var summary SyncRunSummary

	listCtx, release, err := s.scopes.WithScope(ctx)
	if err != nil {
		return summary, err
	}
	sources, err := s.sources.ListEnabled(listCtx)
	release()
	if err != nil {
		return summary, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, src := range sources {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			scoped, release, err := s.scopes.WithScope(gctx)
			if err != nil {
				s.logger.Error("Failed to acquire connection for sync",
					zap.String("source_id", src.ID.String()),
					zap.Error(err))
				mu.Lock()
				summary.Attempted++
				summary.Failed++
				mu.Unlock()
				return nil
			}
			defer release()

			result, err := s.sync.TriggerSync(scoped, src.ID, TriggerOptions{})

			mu.Lock()
			defer mu.Unlock()
			summary.Attempted++
			switch {
			case errors.Is(err, apperrors.ErrSyncInProgress), errors.Is(err, apperrors.ErrSourceDisabled):
				summary.Skipped++
			case err != nil:
				summary.Failed++
				s.logger.Warn("Scheduled sync failed",
					zap.String("source_id", src.ID.String()),
					zap.String("type", string(src.Type)),
					zap.Error(err))
			default:
				summary.Succeeded++
				summary.Inserted += result.RecordsInserted
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Scheduled sync pass complete",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("inserted", summary.Inserted))
	return summary, nil
}

// Run calls SyncAll immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Scheduled sync disabled")
		return
	}

	s.logger.Info("Starting scheduled sync", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Scheduled sync pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduled sync stopped")
			return
		case <-ticker.C:
		}
	}
}
