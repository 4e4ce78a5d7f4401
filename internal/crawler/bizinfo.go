package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/clock/system"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// Bizinfo crawls the Bizinfo support-program board. Its list is server-rendered,
// so the list is read with a plain HTTP collector; detail pages use the browser.
type Bizinfo struct {
	cfg       Config
	settings  SourceSettings
	userAgent string
	base      *colly.Collector
	resolver  LinkResolver
	details   *detailFetcher
	logger    *zap.Logger
}

// NewBizinfo wires a Bizinfo source. ListSelector matches the detail anchors.
func NewBizinfo(cfg Config, settings SourceSettings, userAgent string, browser Browser, resolver LinkResolver, logger *zap.Logger) *Bizinfo {
	cfg = cfg.withDefaults()
	logger = logging.OrNop(logger).Named("bizinfo")
	if resolver == nil {
		resolver = staticResolver{}
	}
	if settings.ListSelector == "" {
		settings.ListSelector = `a[href*="selectSIIA200Detail"]`
	}
	return &Bizinfo{
		cfg:       cfg,
		settings:  settings,
		userAgent: userAgent,
		base:      colly.NewCollector(colly.Async(false)),
		resolver:  resolver,
		details: &detailFetcher{
			cfg:      cfg,
			source:   notice.SourceBizinfo,
			browser:  browser,
			detector: NewInterstitialDetector(cfg.BlockMarkers),
			sleeper:  system.New(),
			logger:   logger,
		},
		logger: logger,
	}
}

// WithSleeper swaps the pause implementation (tests use a no-op).
func (b *Bizinfo) WithSleeper(s Sleeper) *Bizinfo {
	b.details.sleeper = s
	return b
}

// Name implements Source.
func (b *Bizinfo) Name() string {
	return notice.SourceBizinfo
}

// FetchList reads the board and returns one item per distinct pblancId.
func (b *Bizinfo) FetchList(ctx context.Context, maxItems int) ([]notice.Item, error) {
	var (
		items    []notice.Item
		seen     = map[string]struct{}{}
		fetchErr error
	)
	collector := b.base.Clone()
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(listHTTPTimeout(b.cfg.ListTimeout))
	if b.userAgent != "" {
		collector.UserAgent = b.userAgent
	}
	collector.OnHTML(b.settings.ListSelector, func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		title := notice.CleanTitle(notice.StripTags(e.Text))
		id := pblancID(href)
		if id == "" || title == "" {
			b.logger.Debug("skipping anchor without id or title", zap.String("href", href))
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		items = append(items, notice.Item{
			NoticeID: id,
			Title:    title,
			RawLink:  href,
			Source:   notice.SourceBizinfo,
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(b.settings.ListURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bizinfo list canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("open list page: %w", fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("open list page: %w", err)
		}
	}

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	for i := range items {
		items[i].DetailURL = b.resolver.Resolve(ctx, b.settings.Builder, items[i].NoticeID, items[i].Title)
	}
	metrics.ObserveNoticesDiscovered(notice.SourceBizinfo, len(items))
	b.logger.Info("list extracted", zap.Int("notices", len(items)))
	return items, nil
}

// FetchDetail loads the notice body from its detail page.
func (b *Bizinfo) FetchDetail(ctx context.Context, item notice.Item) (string, bool) {
	return b.details.fetch(ctx, b.settings.Builder.DirectURL(item.NoticeID))
}

// Crawl extracts the list and fetches detail bodies in list order.
func (b *Bizinfo) Crawl(ctx context.Context, opts Options) ([]Notice, error) {
	items, err := b.FetchList(ctx, opts.MaxItems)
	if err != nil {
		return nil, err
	}
	return crawlItems(ctx, b, items, opts, b.logger)
}

func pblancID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get("pblancId"))
}

func listHTTPTimeout(d time.Duration) time.Duration {
	if d <= 0 || d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
