package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/progress"
	"github.com/JakeFAU/policyfund-crawler/internal/storage/postgres"
)

// RunRepository persists run boundaries; *postgres.PolicyStore satisfies it.
type RunRepository interface {
	StartRun(ctx context.Context, runID uuid.UUID, sources string, startedAt time.Time) error
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status postgres.RunStatus,
		stats postgres.RunStats,
		errMsg *string,
	) error
}

// StoreSink records each run in the crawl_runs table.
type StoreSink struct {
	repo   RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo RunRepository, logger *zap.Logger) *StoreSink {
	return &StoreSink{repo: repo, logger: logging.OrNop(logger)}
}

// RunStarted inserts the running row.
func (s *StoreSink) RunStarted(ctx context.Context, snap progress.Snapshot) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.repo.StartRun(ctx, snap.RunID, strings.Join(snap.Sources, ","), snap.StartedAt); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RunFinished writes the final status and counters.
func (s *StoreSink) RunFinished(ctx context.Context, snap progress.Snapshot, runErr error) error {
	if s == nil || s.repo == nil {
		return nil
	}
	finished := snap.StartedAt
	if snap.FinishedAt != nil {
		finished = *snap.FinishedAt
	}
	status := postgres.RunSucceeded
	var msg *string
	if runErr != nil {
		status = postgres.RunFailed
		text := runErr.Error()
		msg = &text
	}
	c := snap.Counters
	stats := postgres.RunStats{
		Discovered: c.Discovered,
		Fetched:    c.Fetched,
		Analyzed:   c.Analyzed,
		Stored:     c.Stored,
		Failed:     c.Failed,
		Skipped:    c.Skipped,
	}
	if err := s.repo.CompleteRun(ctx, snap.RunID, finished, status, stats, msg); err != nil {
		return fmt.Errorf("record run completion: %w", err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", snap.RunID.String()), zap.String("status", string(status)))
	return nil
}
