// Package app holds the long-lived services of a command invocation and builds
// them on first use, acting as the dependency injection container for cmd.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/browser"
	"github.com/JakeFAU/policyfund-crawler/internal/clock/system"
	"github.com/JakeFAU/policyfund-crawler/internal/config"
	"github.com/JakeFAU/policyfund-crawler/internal/crawler"
	"github.com/JakeFAU/policyfund-crawler/internal/linkcheck"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/metadata"
	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
	"github.com/JakeFAU/policyfund-crawler/internal/pipeline"
	"github.com/JakeFAU/policyfund-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/policyfund-crawler/internal/progress"
	"github.com/JakeFAU/policyfund-crawler/internal/progress/sinks"
	"github.com/JakeFAU/policyfund-crawler/internal/storage/blob"
	"github.com/JakeFAU/policyfund-crawler/internal/storage/jsonfile"
	"github.com/JakeFAU/policyfund-crawler/internal/storage/postgres"
)

// Source selectors accepted by ParseSources.
const (
	SelectKStartup = "kstartup"
	SelectBizinfo  = "bizinfo"
	SelectAll      = "all"
)

// ErrUnknownSource rejects an unsupported --source value.
var ErrUnknownSource = errors.New("unknown source")

type browserFactory func(cfg browser.Config, logger *zap.Logger) (crawler.Browser, error)

type analyzerFactory func(ctx context.Context, cfg metadata.GeminiConfig, logger *zap.Logger) (metadata.Analyzer, error)

type closer struct {
	name string
	fn   func() error
}

// App holds shared services. Expensive services (browser, database pool,
// archive, model client) are created by the accessor that needs them and
// released by Close in reverse order.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	newBrowser  browserFactory
	newAnalyzer analyzerFactory

	mu          sync.Mutex
	validator   *linkcheck.Validator
	policyStore *postgres.PolicyStore
	closers     []closer
}

// Load reads configuration from path (and the environment), builds the logger
// and returns the container.
func Load(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return New(cfg, logger), nil
}

// New wraps an already loaded configuration.
func New(cfg config.Config, logger *zap.Logger) *App {
	metrics.Init()
	return &App{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		clock:  system.New(),
		newBrowser: func(cfg browser.Config, logger *zap.Logger) (crawler.Browser, error) {
			return browser.New(cfg, logger)
		},
		newAnalyzer: func(ctx context.Context, cfg metadata.GeminiConfig, logger *zap.Logger) (metadata.Analyzer, error) {
			return metadata.NewGemini(ctx, cfg, logger)
		},
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Validator returns the shared link validator.
func (a *App) Validator() *linkcheck.Validator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.validator == nil {
		a.validator = linkcheck.New(linkcheck.Config{
			UserAgent: a.cfg.Crawler.UserAgent,
			Timeout:   a.cfg.LinkCheck.Timeout,
			Delay:     a.cfg.LinkCheck.Delay,
			Markers:   a.cfg.LinkCheck.Markers,
		}, a.logger)
	}
	return a.validator
}

// PolicyStore connects to Postgres on first use.
func (a *App) PolicyStore(ctx context.Context) (*postgres.PolicyStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.policyStore != nil {
		return a.policyStore, nil
	}
	st := a.cfg.Storage
	store, err := postgres.NewPolicyStore(ctx, postgres.Config{
		DSN:             st.DSN,
		Table:           st.Table,
		NaturalKey:      st.NaturalKey,
		MaxConns:        st.MaxConns,
		MaxConnLifetime: st.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("policy store init failed: %w", err)
	}
	a.logger.Info("policy store connected", zap.String("table", st.Table), zap.String("natural_key", st.NaturalKey))
	a.policyStore = store
	a.closers = append(a.closers, closer{name: "policy store", fn: store.Close})
	return store, nil
}

// Builder returns the URL builder configured for a source tag.
func (a *App) Builder(source string) (notice.Builder, error) {
	switch source {
	case notice.SourceKStartup:
		return a.cfg.Sources.KStartup.Builder()
	case notice.SourceBizinfo:
		return a.cfg.Sources.Bizinfo.Builder()
	default:
		return notice.Builder{}, fmt.Errorf("%w %q", ErrUnknownSource, source)
	}
}

// ParseSources maps a --source value to source tags, honoring the enabled flags.
func ParseSources(selector string, cfg config.SourcesConfig) ([]string, error) {
	var picked []string
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case SelectKStartup:
		picked = []string{notice.SourceKStartup}
	case SelectBizinfo:
		picked = []string{notice.SourceBizinfo}
	case "", SelectAll:
		if cfg.KStartup.Enabled {
			picked = append(picked, notice.SourceKStartup)
		}
		if cfg.Bizinfo.Enabled {
			picked = append(picked, notice.SourceBizinfo)
		}
	default:
		return nil, fmt.Errorf("%w %q (want kstartup, bizinfo or all)", ErrUnknownSource, selector)
	}
	if len(picked) == 0 {
		return nil, pipeline.ErrNoSources
	}
	return picked, nil
}

// RunOptions select what a crawl builds.
type RunOptions struct {
	Source       string
	NoDB         bool
	OutputPath   string
	SkipAnalysis bool
}

// BuildPipeline assembles a crawl pipeline: browser session, sources, record
// store, archive, analyzer and run tracking.
func (a *App) BuildPipeline(ctx context.Context, opts RunOptions) (*pipeline.Pipeline, error) {
	tags, err := ParseSources(opts.Source, a.cfg.Sources)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	runSinks := []progress.Sink{sinks.NewLogSink(a.logger.Named("run"))}
	var store pipeline.Store
	if opts.NoDB {
		path := opts.OutputPath
		if path == "" {
			path = a.cfg.Storage.OutputPath
		}
		sink, err := jsonfile.New(path, runID.String())
		if err != nil {
			return nil, fmt.Errorf("json output init failed: %w", err)
		}
		a.addCloser("json output", sink.Close)
		a.logger.Info("writing records to JSON", zap.String("path", path))
		store = sink
	} else {
		pg, err := a.PolicyStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = pg
		runSinks = append(runSinks, sinks.NewStoreSink(pg, a.logger.Named("run_store")))
	}
	tracker := progress.NewTracker(runID, tags, a.clock, a.logger, runSinks...)

	var batch pipeline.BatchRunner
	if !opts.SkipAnalysis {
		b, err := a.batch(ctx)
		if err != nil {
			return nil, err
		}
		batch = b
	}

	archive, err := blob.Open(ctx, blob.Config{
		Backend:     a.cfg.Archive.Backend,
		BaseDir:     a.cfg.Archive.BaseDir,
		Bucket:      a.cfg.Archive.Bucket,
		Prefix:      a.cfg.Archive.Prefix,
		ContentType: a.cfg.Archive.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	var archiver pipeline.Archiver
	if archive != nil {
		archiver = archive
		a.addCloser("archive", archive.Close)
	}

	sources, err := a.sources(tags)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		Sources:    sources,
		Batch:      batch,
		Store:      store,
		Archive:    archiver,
		NaturalKey: a.cfg.Storage.NaturalKey,
		Tracker:    tracker,
		Clock:      a.clock,
		Logger:     a.logger,
	})
}

func (a *App) batch(ctx context.Context) (*metadata.Batch, error) {
	llm := a.cfg.LLM
	retry := metadata.DefaultRetryPolicy()
	analyzer, err := a.newAnalyzer(ctx, metadata.GeminiConfig{
		APIKey:          llm.APIKey,
		Model:           llm.Model,
		Temperature:     llm.Temperature,
		TopP:            llm.TopP,
		TopK:            llm.TopK,
		MaxOutputTokens: llm.MaxOutputTokens,
		Timeout:         llm.Timeout,
		MaxTextRunes:    llm.MaxTextRunes,
		Retry:           retry,
		Gate:            ratelimit.New(ratelimit.Config{Name: "llm", Interval: llm.MinInterval}),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("analyzer init failed: %w", err)
	}
	a.logger.Info("metadata analyzer ready",
		zap.String("model", llm.Model),
		zap.Duration("min_interval", llm.MinInterval),
		zap.Int("batch_size", llm.BatchSize),
	)
	return &metadata.Batch{
		Analyzer:  analyzer,
		BatchSize: llm.BatchSize,
		Pause:     llm.BatchPause,
		Sleeper:   a.clock,
		Logger:    a.logger,
	}, nil
}

func (a *App) sources(tags []string) ([]crawler.Source, error) {
	c := a.cfg.Crawler
	session, err := a.newBrowser(browser.Config{UserAgent: c.UserAgent, Headless: c.Headless}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}
	a.addCloser("browser", session.Close)

	crawlCfg := crawler.Config{
		RequestDelay:       c.RequestDelay,
		RetryDelay:         c.RetryDelay,
		ListBlockedDelay:   c.ListBlockedDelay,
		DetailBlockedDelay: c.DetailBlockedDelay,
		SettleDelay:        crawler.DefaultConfig().SettleDelay,
		ListMaxAttempts:    c.ListMaxAttempts,
		DetailMaxAttempts:  c.DetailMaxAttempts,
		ListTimeout:        c.ListTimeout,
		DetailTimeout:      c.DetailTimeout,
		SelectorTimeout:    c.SelectorTimeout,
		BlockMarkers:       c.BlockMarkers,
	}
	validator := a.Validator()

	out := make([]crawler.Source, 0, len(tags))
	for _, tag := range tags {
		builder, err := a.Builder(tag)
		if err != nil {
			return nil, err
		}
		switch tag {
		case notice.SourceKStartup:
			src := a.cfg.Sources.KStartup
			out = append(out, crawler.NewKStartup(crawlCfg, crawler.SourceSettings{
				ListURL:      src.ListURL,
				ListSelector: src.ListSelector,
				Builder:      builder,
			}, session, validator, a.logger))
		case notice.SourceBizinfo:
			src := a.cfg.Sources.Bizinfo
			out = append(out, crawler.NewBizinfo(crawlCfg, crawler.SourceSettings{
				ListURL:      src.ListURL,
				ListSelector: src.ListSelector,
				Builder:      builder,
			}, c.UserAgent, session, validator, a.logger))
		}
	}
	return out, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases every service in reverse creation order and flushes the logger.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.policyStore = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", closers[i].name), zap.Error(err))
		}
	}
	// Sync on stderr-backed loggers reports EINVAL on some platforms.
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
