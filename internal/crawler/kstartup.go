package crawler

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/clock/system"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// SourceSettings locate a portal's list page and describe its links.
type SourceSettings struct {
	ListURL      string
	ListSelector string
	Builder      notice.Builder
}

// KStartup crawls the K-Startup ongoing-announcements board, whose list is
// rendered client-side and links to details only through go_view(id) handlers.
type KStartup struct {
	cfg      Config
	settings SourceSettings
	browser  Browser
	resolver LinkResolver
	sleeper  Sleeper
	detector *InterstitialDetector
	details  *detailFetcher
	logger   *zap.Logger
}

// NewKStartup wires a K-Startup source. A nil resolver applies the builder's
// static strategy.
func NewKStartup(cfg Config, settings SourceSettings, browser Browser, resolver LinkResolver, logger *zap.Logger) *KStartup {
	cfg = cfg.withDefaults()
	logger = logging.OrNop(logger).Named("kstartup")
	if resolver == nil {
		resolver = staticResolver{}
	}
	detector := NewInterstitialDetector(cfg.BlockMarkers)
	sleeper := system.New()
	return &KStartup{
		cfg:      cfg,
		settings: settings,
		browser:  browser,
		resolver: resolver,
		sleeper:  sleeper,
		detector: detector,
		details: &detailFetcher{
			cfg:      cfg,
			source:   notice.SourceKStartup,
			browser:  browser,
			detector: detector,
			sleeper:  sleeper,
			logger:   logger,
		},
		logger: logger,
	}
}

// WithSleeper swaps the pause implementation (tests use a no-op).
func (k *KStartup) WithSleeper(s Sleeper) *KStartup {
	k.sleeper = s
	k.details.sleeper = s
	return k
}

// Name implements Source.
func (k *KStartup) Name() string {
	return notice.SourceKStartup
}

// FetchList opens the list page, waits out interstitials, and extracts up to
// maxItems notices (0 means all). Failing to establish the list is an error:
// navigation failure, an error status, ErrBlocked, or ErrListNotRendered.
func (k *KStartup) FetchList(ctx context.Context, maxItems int) ([]notice.Item, error) {
	html, err := k.openList(ctx)
	if err != nil {
		return nil, err
	}
	items := notice.ExtractIdentifiers(html)
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	for i := range items {
		items[i].Source = notice.SourceKStartup
		items[i].DetailURL = k.resolver.Resolve(ctx, k.settings.Builder, items[i].NoticeID, items[i].Title)
	}
	metrics.ObserveNoticesDiscovered(notice.SourceKStartup, len(items))
	k.logger.Info("list extracted", zap.Int("notices", len(items)))
	return items, nil
}

func (k *KStartup) openList(ctx context.Context) (string, error) {
	url := k.settings.ListURL
	for attempt := 1; ; attempt++ {
		status, err := k.browser.Navigate(ctx, url, k.cfg.ListTimeout)
		if err != nil {
			return "", fmt.Errorf("open list page: %w", err)
		}
		if status >= http.StatusBadRequest {
			return "", fmt.Errorf("open list page: status %d", status)
		}
		html, err := k.browser.HTML(ctx)
		if err != nil {
			return "", fmt.Errorf("read list page: %w", err)
		}
		if !k.detector.Blocked(html) {
			break
		}
		if attempt >= k.cfg.ListMaxAttempts {
			return "", &BlockedError{URL: url, Attempts: attempt}
		}
		k.logger.Warn("list page behind interstitial; waiting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", k.cfg.ListBlockedDelay),
		)
		if err := k.sleeper.Sleep(ctx, k.cfg.ListBlockedDelay); err != nil {
			return "", fmt.Errorf("wait for interstitial: %w", err)
		}
	}

	if err := k.browser.WaitForSelector(ctx, k.settings.ListSelector, k.cfg.SelectorTimeout); err != nil {
		return "", fmt.Errorf("%w: %w", ErrListNotRendered, err)
	}
	if err := k.sleeper.Sleep(ctx, k.cfg.SettleDelay); err != nil {
		return "", fmt.Errorf("settle list page: %w", err)
	}
	html, err := k.browser.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read list page: %w", err)
	}
	return html, nil
}

// FetchDetail loads the notice body from its direct detail page. The persisted
// link may be a search URL; the body always comes from the detail page.
func (k *KStartup) FetchDetail(ctx context.Context, item notice.Item) (string, bool) {
	return k.details.fetch(ctx, k.settings.Builder.DirectURL(item.NoticeID))
}

// Crawl extracts the list and fetches detail bodies in list order.
func (k *KStartup) Crawl(ctx context.Context, opts Options) ([]Notice, error) {
	items, err := k.FetchList(ctx, opts.MaxItems)
	if err != nil {
		return nil, err
	}
	return crawlItems(ctx, k, items, opts, k.logger)
}
