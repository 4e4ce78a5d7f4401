package crawler

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// Notice is a discovered item plus its fetched detail body.
type Notice struct {
	notice.Item
	// BodyHTML is empty when every detail attempt failed or the item was skipped.
	BodyHTML    string
	BodyFetched bool
	// Attempted is false for items past Options.MaxDetails and for skipped items.
	Attempted bool
	// Skipped marks items the caller asked not to fetch (already stored).
	Skipped bool
}

// Options bound a crawl.
type Options struct {
	// MaxItems caps list extraction; 0 means no cap.
	MaxItems int
	// MaxDetails caps detail fetches; 0 means every non-skipped item.
	MaxDetails int
	// Skip, when set, excludes items from detail fetching.
	Skip func(notice.Item) bool
}

// Config holds the pauses, timeouts and attempt budgets of the fetch loops.
type Config struct {
	RequestDelay       time.Duration
	RetryDelay         time.Duration
	ListBlockedDelay   time.Duration
	DetailBlockedDelay time.Duration
	SettleDelay        time.Duration
	ListMaxAttempts    int
	DetailMaxAttempts  int
	ListTimeout        time.Duration
	DetailTimeout      time.Duration
	SelectorTimeout    time.Duration
	BlockMarkers       []string
}

// DefaultConfig mirrors the portal-friendly pacing used in production.
func DefaultConfig() Config {
	return Config{
		RequestDelay:       2 * time.Second,
		RetryDelay:         5 * time.Second,
		ListBlockedDelay:   10 * time.Second,
		DetailBlockedDelay: 15 * time.Second,
		SettleDelay:        2 * time.Second,
		ListMaxAttempts:    5,
		DetailMaxAttempts:  3,
		ListTimeout:        60 * time.Second,
		DetailTimeout:      30 * time.Second,
		SelectorTimeout:    15 * time.Second,
		BlockMarkers:       DefaultBlockMarkers,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ListMaxAttempts <= 0 {
		c.ListMaxAttempts = def.ListMaxAttempts
	}
	if c.DetailMaxAttempts <= 0 {
		c.DetailMaxAttempts = def.DetailMaxAttempts
	}
	if c.ListTimeout <= 0 {
		c.ListTimeout = def.ListTimeout
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = def.DetailTimeout
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = def.SelectorTimeout
	}
	return c
}

var (
	// ErrBlocked reports a list page stuck behind the interstitial.
	ErrBlocked = errors.New("list page blocked by interstitial")
	// ErrListNotRendered reports that the list container never appeared.
	ErrListNotRendered = errors.New("list container not rendered")
)

// BlockedError carries the URL and attempt count of a list that never cleared.
type BlockedError struct {
	URL      string
	Attempts int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %s", ErrBlocked, e.Attempts, e.URL)
}

// Unwrap lets errors.Is match ErrBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}
