package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run states recorded in crawl_runs.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunStats are the counters reported when a run completes.
type RunStats struct {
	Discovered int
	Fetched    int
	Analyzed   int
	Stored     int
	Failed     int
	Skipped    int
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id UUID PRIMARY KEY,
	sources TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	discovered INTEGER NOT NULL DEFAULT 0,
	fetched INTEGER NOT NULL DEFAULT 0,
	analyzed INTEGER NOT NULL DEFAULT 0,
	stored INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`

// StartRun records the beginning of a run.
func (s *PolicyStore) StartRun(ctx context.Context, runID uuid.UUID, sources string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, sources, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, sources, startedAt, RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its counters and optional error message.
func (s *PolicyStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status RunStatus,
	stats RunStats,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2,
			discovered = $3, fetched = $4, analyzed = $5, stored = $6, failed = $7, skipped = $8,
			error_message = $9
		WHERE id = $10;
	`
	_, err := s.pool.Exec(ctx, query,
		finishedAt, status,
		stats.Discovered, stats.Fetched, stats.Analyzed, stats.Stored, stats.Failed, stats.Skipped,
		errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}
