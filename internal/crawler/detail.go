package crawler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// detailFetcher loads detail pages through the browser with a bounded retry loop.
type detailFetcher struct {
	cfg      Config
	source   string
	browser  Browser
	detector *InterstitialDetector
	sleeper  Sleeper
	logger   *zap.Logger
}

// fetch returns the notice body of url. Transport failures, error statuses and
// interstitials each consume one attempt; interstitials wait longer before the next.
// When attempts run out it returns ("", false).
func (d *detailFetcher) fetch(ctx context.Context, url string) (string, bool) {
	for attempt := 1; attempt <= d.cfg.DetailMaxAttempts; attempt++ {
		if err := d.sleeper.Sleep(ctx, d.cfg.RequestDelay); err != nil {
			return "", false
		}
		logger := d.logger.With(zap.String("url", url), zap.Int("attempt", attempt))

		html, retryDelay, ok := d.attempt(ctx, logger, url)
		if ok {
			metrics.ObserveDetailFetch(d.source, metrics.OutcomeSuccess)
			return ExtractBody(html), true
		}
		if ctx.Err() != nil {
			return "", false
		}
		if attempt < d.cfg.DetailMaxAttempts {
			if err := d.sleeper.Sleep(ctx, retryDelay); err != nil {
				return "", false
			}
		}
	}
	d.logger.Warn("detail attempts exhausted", zap.String("url", url), zap.Int("attempts", d.cfg.DetailMaxAttempts))
	metrics.ObserveDetailFetch(d.source, metrics.OutcomeEmpty)
	return "", false
}

func (d *detailFetcher) attempt(ctx context.Context, logger *zap.Logger, url string) (string, time.Duration, bool) {
	status, err := d.browser.Navigate(ctx, url, d.cfg.DetailTimeout)
	if err != nil {
		logger.Warn("detail navigation failed", zap.Error(err))
		metrics.ObserveDetailFetch(d.source, metrics.OutcomeFailure)
		return "", d.cfg.RetryDelay, false
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		logger.Warn("detail page returned error status", zap.Int("status", status))
		metrics.ObserveDetailFetch(d.source, metrics.OutcomeFailure)
		return "", d.cfg.RetryDelay, false
	}
	html, err := d.browser.HTML(ctx)
	if err != nil {
		logger.Warn("read detail page failed", zap.Error(err))
		metrics.ObserveDetailFetch(d.source, metrics.OutcomeFailure)
		return "", d.cfg.RetryDelay, false
	}
	if d.detector.Blocked(html) {
		logger.Warn("detail page behind interstitial")
		metrics.ObserveDetailFetch(d.source, metrics.OutcomeBlocked)
		return "", d.cfg.DetailBlockedDelay, false
	}
	return html, 0, true
}

// crawlItems fetches bodies for items in order and emits one Notice per item.
func crawlItems(ctx context.Context, src Source, items []notice.Item, opts Options, logger *zap.Logger) ([]Notice, error) {
	notices := make([]Notice, 0, len(items))
	fetched := 0
	for i, item := range items {
		n := Notice{Item: item}
		switch {
		case opts.Skip != nil && opts.Skip(item):
			n.Skipped = true
			metrics.ObserveDetailFetch(src.Name(), metrics.OutcomeSkipped)
		case opts.MaxDetails > 0 && fetched >= opts.MaxDetails:
		default:
			if err := ctx.Err(); err != nil {
				return notices, fmt.Errorf("crawl %s interrupted: %w", src.Name(), err)
			}
			fetched++
			n.Attempted = true
			logger.Info("fetching detail",
				zap.String("progress", progress(i+1, len(items))),
				zap.String("notice_id", item.NoticeID),
				zap.String("title", item.Title),
			)
			n.BodyHTML, n.BodyFetched = src.FetchDetail(ctx, item)
		}
		notices = append(notices, n)
	}
	return notices, nil
}

func progress(i, n int) string {
	return fmt.Sprintf("%d/%d", i, n)
}
