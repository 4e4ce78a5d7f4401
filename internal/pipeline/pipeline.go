// Package pipeline drives a crawl run: list and detail fetching per source,
// metadata extraction, body archiving and record persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/crawler"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/metadata"
	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
	"github.com/JakeFAU/policyfund-crawler/internal/progress"
)

// Store persists policy records.
type Store interface {
	Backend() string
	Upsert(ctx context.Context, rec notice.PolicyRecord) error
	ExistingKeys(ctx context.Context, source string) (map[string]struct{}, error)
}

// Archiver keeps a copy of each detail body and returns its URI.
type Archiver interface {
	Put(ctx context.Context, source, noticeID string, day time.Time, body string) (string, error)
}

// BatchRunner analyzes notices in order; metadata.Batch satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, inputs []metadata.Input) metadata.BatchResult
}

// Options bound a single run.
type Options struct {
	MaxItems     int
	MaxDetails   int
	SkipAnalysis bool
	// Force re-fetches and re-analyzes notices already present in the store.
	Force bool
}

// Config wires a Pipeline.
type Config struct {
	Sources []crawler.Source
	// Batch may be nil only when every run uses SkipAnalysis.
	Batch      BatchRunner
	Store      Store
	Archive    Archiver
	NaturalKey string
	Tracker    *progress.Tracker
	Clock      progress.Clock
	Logger     *zap.Logger
}

// Pipeline runs every configured source in order on one goroutine.
type Pipeline struct {
	sources    []crawler.Source
	batch      BatchRunner
	store      Store
	archive    Archiver
	naturalKey string
	tracker    *progress.Tracker
	clock      progress.Clock
	logger     *zap.Logger
}

// SourceResult summarises the run of one source.
type SourceResult struct {
	Source        string
	Counters      progress.Counters
	QuotaExceeded bool
	Err           error
}

// ErrNoSources is returned when a pipeline has nothing to crawl.
var ErrNoSources = errors.New("no sources configured")

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if len(cfg.Sources) == 0 {
		return nil, ErrNoSources
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Tracker == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("tracker and clock are required")
	}
	key := cfg.NaturalKey
	if key == "" {
		key = "notice_id"
	}
	return &Pipeline{
		sources:    cfg.Sources,
		batch:      cfg.Batch,
		store:      cfg.Store,
		archive:    cfg.Archive,
		naturalKey: key,
		tracker:    cfg.Tracker,
		clock:      cfg.Clock,
		logger:     logging.OrNop(cfg.Logger).Named("pipeline"),
	}, nil
}

// Status returns the live run snapshot for the operator API.
func (p *Pipeline) Status() any {
	return p.tracker.Snapshot()
}

// Run crawls every source in order. A source whose list cannot be established
// is reported and the remaining sources still run; the joined error of all
// failed sources is returned. Per-notice failures are absorbed and counted.
func (p *Pipeline) Run(ctx context.Context, opts Options) ([]SourceResult, error) {
	if !opts.SkipAnalysis && p.batch == nil {
		return nil, fmt.Errorf("analysis requested without an analyzer")
	}
	if err := p.tracker.Start(ctx); err != nil {
		p.logger.Warn("run start not recorded", zap.Error(err))
	}

	results := make([]SourceResult, 0, len(p.sources))
	var errs []error
	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("run interrupted: %w", err))
			break
		}
		res := p.runSource(ctx, src, opts)
		results = append(results, res)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}

	runErr := errors.Join(errs...)
	// Record completion even when the run context is already canceled.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.tracker.Finish(finishCtx, runErr); err != nil {
		p.logger.Warn("run completion not recorded", zap.Error(err))
	}
	return results, runErr
}

func (p *Pipeline) runSource(ctx context.Context, src crawler.Source, opts Options) SourceResult {
	name := src.Name()
	logger := p.logger.With(zap.String("source", name))
	res := SourceResult{Source: name}

	crawlOpts := crawler.Options{MaxItems: opts.MaxItems, MaxDetails: opts.MaxDetails}
	if !opts.Force {
		existing, err := p.store.ExistingKeys(ctx, name)
		if err != nil {
			res.Err = fmt.Errorf("load existing %s keys: %w", name, err)
			return res
		}
		if len(existing) > 0 {
			logger.Info("skipping notices already stored", zap.Int("existing", len(existing)))
			crawlOpts.Skip = func(item notice.Item) bool {
				_, ok := existing[item.Key(p.naturalKey)]
				return ok
			}
		}
	}

	p.tracker.Enter(name, progress.StageFetching)
	notices, err := src.Crawl(ctx, crawlOpts)
	if err != nil && len(notices) == 0 {
		res.Err = fmt.Errorf("crawl %s: %w", name, err)
		p.tracker.Enter(name, progress.StageFailed)
		return res
	}
	if err != nil {
		logger.Warn("crawl stopped early; storing what was fetched", zap.Error(err))
		res.Err = fmt.Errorf("crawl %s: %w", name, err)
	}

	var pending []crawler.Notice
	for _, n := range notices {
		switch {
		case n.Skipped:
			res.Counters.Skipped++
		case n.Attempted:
			pending = append(pending, n)
			if n.BodyFetched {
				res.Counters.Fetched++
			}
		}
	}
	res.Counters.Discovered = len(notices)
	p.tracker.Add(progress.Counters{
		Discovered: res.Counters.Discovered,
		Fetched:    res.Counters.Fetched,
		Skipped:    res.Counters.Skipped,
	})

	records := p.buildRecords(name, pending)
	if !opts.SkipAnalysis && len(pending) > 0 {
		p.tracker.Enter(name, progress.StageAnalyzing)
		analyzed, quota := p.analyze(ctx, pending, records)
		res.Counters.Analyzed = analyzed
		res.QuotaExceeded = quota
		p.tracker.Add(progress.Counters{Analyzed: analyzed})
	}

	p.tracker.Enter(name, progress.StageStoring)
	stored, failed := p.persist(ctx, logger, pending, records)
	res.Counters.Stored = stored
	res.Counters.Failed = failed
	p.tracker.Add(progress.Counters{Stored: stored, Failed: failed})

	logger.Info("source finished",
		zap.Int("discovered", res.Counters.Discovered),
		zap.Int("fetched", res.Counters.Fetched),
		zap.Int("analyzed", res.Counters.Analyzed),
		zap.Int("stored", stored),
		zap.Int("failed", failed),
		zap.Int("skipped", res.Counters.Skipped),
		zap.Bool("quota_exceeded", res.QuotaExceeded),
	)
	return res
}

func (p *Pipeline) buildRecords(source string, notices []crawler.Notice) []notice.PolicyRecord {
	records := make([]notice.PolicyRecord, len(notices))
	for i, n := range notices {
		records[i] = notice.PolicyRecord{
			Title:                 n.Title,
			SourceSite:            source,
			NoticeID:              n.NoticeID,
			Link:                  n.DetailURL,
			URL:                   n.DetailURL,
			RawContent:            metadata.PlainText(n.BodyHTML),
			RoadmapStage:          []string{},
			RequiredDocumentsList: []string{},
		}
	}
	return records
}

// analyze fills records in place and returns the successful count and whether
// the provider quota ran out.
func (p *Pipeline) analyze(ctx context.Context, notices []crawler.Notice, records []notice.PolicyRecord) (int, bool) {
	inputs := make([]metadata.Input, len(notices))
	for i, n := range notices {
		inputs[i] = metadata.Input{Key: n.NoticeID, Title: n.Title, Body: n.BodyHTML}
	}
	out := p.batch.Run(ctx, inputs)
	for i, r := range out.Results {
		if i >= len(records) {
			break
		}
		applyMetadata(&records[i], r.Metadata)
		switch {
		case r.Skipped:
			records[i].AnalysisError = "skipped"
		case r.Err != nil:
			records[i].AnalysisError = r.Err.Error()
		}
	}
	return out.Succeeded, out.QuotaExceeded
}

func (p *Pipeline) persist(
	ctx context.Context,
	logger *zap.Logger,
	notices []crawler.Notice,
	records []notice.PolicyRecord,
) (stored, failed int) {
	backend := p.store.Backend()
	day := p.clock.Now()
	for i := range records {
		rec := &records[i]
		if err := ctx.Err(); err != nil {
			logger.Warn("storing interrupted", zap.Int("remaining", len(records)-i), zap.Error(err))
			failed += len(records) - i
			return stored, failed
		}
		if body := notices[i].BodyHTML; body != "" && p.archive != nil {
			uri, err := p.archive.Put(ctx, rec.SourceSite, rec.NoticeID, day, body)
			if err != nil {
				logger.Warn("archive body failed", zap.String("notice_id", rec.NoticeID), zap.Error(err))
			}
			rec.ArchiveURI = uri
		}
		if err := p.store.Upsert(ctx, *rec); err != nil {
			failed++
			metrics.ObserveRecordStored(backend, metrics.OutcomeFailure)
			logger.Warn("store record failed",
				zap.String("notice_id", rec.NoticeID),
				zap.String("title", rec.Title),
				zap.Error(err),
			)
			continue
		}
		stored++
		metrics.ObserveRecordStored(backend, metrics.OutcomeSuccess)
	}
	return stored, failed
}

func applyMetadata(rec *notice.PolicyRecord, md metadata.Metadata) {
	rec.Summary = md.Summary
	rec.Region = md.Region
	rec.BizAge = md.BizAge
	rec.Industry = md.Industry
	rec.TargetGroup = md.TargetGroup
	rec.SupportType = md.SupportType
	rec.Amount = md.Amount
	rec.Agency = md.Agency
	rec.ApplicationPeriod = md.ApplicationPeriod
	rec.ApplicationMethod = md.ApplicationMethod
	rec.Inquiry = md.Inquiry
	if md.RoadmapStage != nil {
		rec.RoadmapStage = md.RoadmapStage
	}
	if md.RequiredDocumentsList != nil {
		rec.RequiredDocumentsList = md.RequiredDocumentsList
	}
	rec.RequiredDocumentsCount = md.RequiredDocumentsCount
}
