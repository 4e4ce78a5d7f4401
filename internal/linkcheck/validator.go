// Package linkcheck decides whether a detail URL actually renders notice content.
//
// Some portals answer 200 with an empty shell for direct detail links, so a link
// counts as valid only when its body carries at least one content marker (for
// example "신청기간" or "문의처").
package linkcheck

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/clock/system"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// DefaultMarkers are section labels present on every rendered detail page.
var DefaultMarkers = []string{"신청기간", "지원내용", "문의처", "담당자", "첨부파일", "사업개요"}

// Config controls validator behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Delay is applied before every request.
	Delay   time.Duration
	Markers []string
}

// Sleeper pauses between requests.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Validator checks links with a single GET per call.
type Validator struct {
	cfg     Config
	markers [][]byte
	base    *colly.Collector
	sleeper Sleeper
	logger  *zap.Logger
}

// New builds a Validator.
func New(cfg Config, logger *zap.Logger) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Markers) == 0 {
		cfg.Markers = DefaultMarkers
	}
	markers := make([][]byte, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, []byte(m))
		}
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &Validator{
		cfg:     cfg,
		markers: markers,
		base:    c,
		sleeper: system.New(),
		logger:  logging.OrNop(logger).Named("linkcheck"),
	}
}

// WithSleeper swaps the pause implementation (tests use a no-op).
func (v *Validator) WithSleeper(s Sleeper) *Validator {
	v.sleeper = s
	return v
}

// Validate reports whether rawURL answers 200 with a body that contains at least
// one content marker. Any other status, transport error, or timeout is invalid.
func (v *Validator) Validate(ctx context.Context, rawURL string) bool {
	if err := v.sleeper.Sleep(ctx, v.cfg.Delay); err != nil {
		return false
	}
	status, body, err := v.fetch(ctx, rawURL)
	valid := err == nil && status == http.StatusOK && v.hasMarker(body)
	metrics.ObserveLinkValidation(valid)
	if err != nil {
		v.logger.Debug("link check failed", zap.String("url", rawURL), zap.Error(err))
	} else {
		v.logger.Debug("link checked",
			zap.String("url", rawURL),
			zap.Int("status", status),
			zap.Bool("valid", valid),
		)
	}
	return valid
}

// SafeLink returns originalURL when it validates, otherwise the search URL for title.
func (v *Validator) SafeLink(ctx context.Context, builder notice.Builder, title, originalURL string) string {
	if v.Validate(ctx, originalURL) {
		return originalURL
	}
	fallback := builder.SearchURL(title)
	v.logger.Info("link invalid; using search fallback",
		zap.String("title", title),
		zap.String("original", originalURL),
		zap.String("fallback", fallback),
	)
	return fallback
}

// Resolve applies builder's strategy to a notice, validating when required.
func (v *Validator) Resolve(ctx context.Context, builder notice.Builder, id, title string) string {
	if builder.Strategy != notice.StrategyValidated {
		return builder.Build(id, title)
	}
	return v.SafeLink(ctx, builder, title, builder.DirectURL(id))
}

func (v *Validator) hasMarker(body []byte) bool {
	for _, m := range v.markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

func (v *Validator) fetch(ctx context.Context, rawURL string) (int, []byte, error) {
	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector := v.base.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(v.cfg.Timeout)
	if v.cfg.UserAgent != "" {
		collector.UserAgent = v.cfg.UserAgent
	}
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("link check canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return status, nil, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return status, nil, fmt.Errorf("response %s: %w", rawURL, fetchErr)
		}
		return status, body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
