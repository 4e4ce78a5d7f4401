package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// Browser is a single reusable page. Implementations are not safe for concurrent use.
type Browser interface {
	// Navigate loads url and waits for network idle; it returns the document status.
	Navigate(ctx context.Context, url string, timeout time.Duration) (int, error)
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	// WaitForSelector blocks until selector matches or timeout elapses.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Close() error
}

// Sleeper pauses between requests.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// LinkResolver produces the persisted link for a notice under a builder's strategy.
type LinkResolver interface {
	Resolve(ctx context.Context, builder notice.Builder, id, title string) string
}

// Source is one portal the pipeline can crawl.
type Source interface {
	Name() string
	FetchList(ctx context.Context, maxItems int) ([]notice.Item, error)
	FetchDetail(ctx context.Context, item notice.Item) (string, bool)
	Crawl(ctx context.Context, opts Options) ([]Notice, error)
}

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, builder notice.Builder, id, title string) string {
	return builder.Build(id, title)
}
