// Package browser drives a single headless Chrome tab through chromedp.
//
// The portals this crawler reads render their notice lists and detail bodies with
// JavaScript and occasionally serve a queue/interstitial page, so every fetch goes
// through a real browser. One Session owns exactly one tab; callers must not use it
// from more than one goroutine at a time.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/logging"
)

// Config controls the browser session.
type Config struct {
	UserAgent string
	Headless  bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Session is one reusable browser tab.
type Session struct {
	cfg         Config
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	events      *pageEvents
	logger      *zap.Logger
}

// New launches Chrome and opens the tab every navigation will reuse.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "ko-KR"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
		events:      newPageEvents(),
		logger:      logging.OrNop(logger).Named("browser"),
	}
	chromedp.ListenTarget(tab, s.events.handle)

	if err := chromedp.Run(tab, s.setupAction()); err != nil {
		s.Close() //nolint:errcheck // launch already failed
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return s, nil
}

// Close shuts the tab and the browser process.
func (s *Session) Close() error {
	s.tabCancel()
	s.allocCancel()
	return nil
}

// Navigate loads url in the tab and waits until the network goes idle or timeout
// elapses. It returns the HTTP status of the main document; 200 is assumed when
// the browser reported none (cached or synthetic documents).
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (int, error) {
	opCtx, cancel := s.operation(ctx, timeout)
	defer cancel()

	s.events.reset()
	if err := chromedp.Run(opCtx, chromedp.Navigate(url)); err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := s.events.waitIdle(opCtx); err != nil {
		return s.events.documentStatus(), fmt.Errorf("wait network idle %s: %w", url, err)
	}
	return s.events.documentStatus(), nil
}

// HTML returns the outer HTML of the current document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := s.operation(ctx, 30*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// WaitForSelector blocks until selector matches an element or timeout elapses.
func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := s.operation(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(opCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// operation derives a bounded context from the tab that also ends with ctx.
func (s *Session) operation(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// pageEvents follows the current navigation: the loader of its first document
// response, that document's status, and whether the loader reached network idle.
type pageEvents struct {
	mu     sync.Mutex
	loader cdp.LoaderID
	status int
	idle   bool
	wake   chan struct{}
}

func newPageEvents() *pageEvents {
	return &pageEvents{wake: make(chan struct{})}
}

func (e *pageEvents) reset() {
	e.mu.Lock()
	e.loader = ""
	e.status = 0
	e.idle = false
	e.mu.Unlock()
}

func (e *pageEvents) handle(ev any) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
			return
		}
		e.mu.Lock()
		if e.loader == "" {
			e.loader = ev.LoaderID
			e.status = int(ev.Response.Status)
		}
		e.mu.Unlock()
	case *page.EventLifecycleEvent:
		if ev.Name != "networkIdle" {
			return
		}
		e.mu.Lock()
		if e.loader != "" && ev.LoaderID == e.loader && !e.idle {
			e.idle = true
			close(e.wake)
			e.wake = make(chan struct{})
		}
		e.mu.Unlock()
	}
}

func (e *pageEvents) waitIdle(ctx context.Context) error {
	for {
		e.mu.Lock()
		idle, wake := e.idle, e.wake
		e.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(errNotIdle, ctx.Err())
		case <-wake:
		}
	}
}

var errNotIdle = errors.New("network did not go idle")

func (e *pageEvents) documentStatus() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == 0 {
		return http.StatusOK
	}
	return e.status
}
