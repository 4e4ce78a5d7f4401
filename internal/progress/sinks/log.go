package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/progress"
)

// LogSink emits run boundaries as structured logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger)}
}

// RunStarted logs the run ID and sources.
func (s *LogSink) RunStarted(_ context.Context, snap progress.Snapshot) error {
	s.logger.Info("run started",
		zap.String("run_id", snap.RunID.String()),
		zap.Strings("sources", snap.Sources),
		zap.Time("started_at", snap.StartedAt),
	)
	return nil
}

// RunFinished logs the final counters.
func (s *LogSink) RunFinished(_ context.Context, snap progress.Snapshot, runErr error) error {
	c := snap.Counters
	fields := []zap.Field{
		zap.String("run_id", snap.RunID.String()),
		zap.String("stage", string(snap.Stage)),
		zap.Int("discovered", c.Discovered),
		zap.Int("fetched", c.Fetched),
		zap.Int("analyzed", c.Analyzed),
		zap.Int("stored", c.Stored),
		zap.Int("failed", c.Failed),
		zap.Int("skipped", c.Skipped),
	}
	if snap.FinishedAt != nil {
		fields = append(fields, zap.Duration("duration", snap.FinishedAt.Sub(snap.StartedAt)))
	}
	if runErr != nil {
		s.logger.Warn("run summary", append(fields, zap.Error(runErr))...)
		return nil
	}
	s.logger.Info("run summary", fields...)
	return nil
}
