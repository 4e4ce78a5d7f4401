package metadata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/clock/system"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
)

// Waiter blocks until the next call may proceed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Input is one notice to analyze.
type Input struct {
	Key   string
	Title string
	Body  string
}

// Result pairs an Input with its outcome. Skipped results were never sent to
// the model and carry EmptyMetadata.
type Result struct {
	Input
	Metadata Metadata
	Err      error
	Skipped  bool
}

// BatchResult summarises a batch run. Results has one entry per input, in order.
type BatchResult struct {
	Results       []Result
	Processed     int
	Succeeded     int
	Skipped       int
	QuotaExceeded bool
}

// Batch runs an Analyzer over many inputs: a Pause between groups of
// BatchSize, and no further calls after the provider reports quota exhaustion.
type Batch struct {
	Analyzer Analyzer
	// Gate spaces Analyze calls. Leave it nil when the Analyzer waits on its
	// own gate (GeminiConfig.Gate), which also covers retries.
	Gate      Waiter
	BatchSize int
	Pause     time.Duration
	Sleeper   Sleeper
	Logger    *zap.Logger
}

// Run analyzes inputs in order. Per-input failures are recorded in the
// results; malformed answers yield EmptyMetadata and processing continues.
func (b Batch) Run(ctx context.Context, inputs []Input) BatchResult {
	logger := logging.OrNop(b.Logger).Named("batch")
	sleeper := b.Sleeper
	if sleeper == nil {
		sleeper = system.New()
	}
	size := b.BatchSize
	if size <= 0 {
		size = 10
	}

	res := BatchResult{Results: make([]Result, len(inputs))}
	for i, in := range inputs {
		res.Results[i] = Result{Input: in, Metadata: EmptyMetadata()}
	}
	totalBatches := (len(inputs) + size - 1) / size
	logger.Info("batch analysis started",
		zap.Int("inputs", len(inputs)),
		zap.Int("batches", totalBatches),
	)

	next := 0
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		batchNum := start/size + 1
		logger.Info("processing batch", zap.String("batch", fmt.Sprintf("%d/%d", batchNum, totalBatches)))

		for i := start; i < end; i++ {
			if b.Gate != nil {
				if err := b.Gate.Wait(ctx); err != nil {
					logger.Warn("batch interrupted", zap.Error(err))
					return b.skipRest(res, i, logger)
				}
			}
			md, err := b.Analyzer.Analyze(ctx, inputs[i].Title, inputs[i].Body)
			r := &res.Results[i]
			r.Metadata, r.Err = md, err
			res.Processed++
			next = i + 1
			if ctx.Err() != nil {
				metrics.ObserveLLMRequest(metrics.OutcomeFailure)
				logger.Warn("batch interrupted", zap.Error(ctx.Err()))
				return b.skipRest(res, next, logger)
			}

			switch kind := KindOf(err); {
			case err == nil:
				res.Succeeded++
				metrics.ObserveLLMRequest(metrics.OutcomeSuccess)
			case kind == KindQuotaExceeded:
				metrics.ObserveLLMRequest(metrics.OutcomeQuota)
				res.QuotaExceeded = true
				logger.Warn("quota exhausted; skipping remaining inputs",
					zap.Int("remaining", len(inputs)-next),
					zap.Error(err),
				)
				return b.skipRest(res, next, logger)
			default:
				metrics.ObserveLLMRequest(metrics.OutcomeFailure)
				if kind == KindMalformed {
					r.Metadata = EmptyMetadata()
				}
				logger.Warn("analysis failed",
					zap.String("key", inputs[i].Key),
					zap.Stringer("kind", kind),
					zap.Error(err),
				)
			}
		}

		if batchNum < totalBatches && b.Pause > 0 {
			if err := sleeper.Sleep(ctx, b.Pause); err != nil {
				logger.Warn("batch interrupted", zap.Error(err))
				return b.skipRest(res, next, logger)
			}
		}
	}

	logger.Info("batch analysis finished",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("processed", res.Processed),
	)
	return res
}

func (b Batch) skipRest(res BatchResult, from int, logger *zap.Logger) BatchResult {
	for i := from; i < len(res.Results); i++ {
		res.Results[i].Skipped = true
		res.Results[i].Metadata = EmptyMetadata()
		res.Skipped++
	}
	logger.Info("batch analysis stopped early",
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
	)
	return res
}
