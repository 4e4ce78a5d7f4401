// Package blob archives raw notice bodies in a configurable object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/policyfund-crawler/internal/storage/gcs"
	"github.com/JakeFAU/policyfund-crawler/internal/storage/local"
)

// Backends accepted by Open.
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Store persists one object and returns its URI.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Config selects and configures the archive backend.
type Config struct {
	Backend     string
	BaseDir     string
	Bucket      string
	Prefix      string
	ContentType string
}

// Archive writes notice bodies to a Store under a date-partitioned layout.
type Archive struct {
	store       Store
	prefix      string
	contentType string
	closeFn     func() error
}

// Open builds the Archive for cfg. The "none" backend returns a nil Archive,
// whose methods are no-ops.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return New(store, cfg), nil
	case BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a := New(store, cfg)
		a.closeFn = store.Close
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// New wraps an existing Store.
func New(store Store, cfg Config) *Archive {
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &Archive{
		store:       store,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		contentType: contentType,
	}
}

// ObjectPath returns <prefix>/<source>/<YYYY-MM-DD>/<noticeID>.html.
func ObjectPath(prefix, source string, day time.Time, noticeID string) string {
	name := sanitize(noticeID) + ".html"
	parts := []string{sanitize(source), day.UTC().Format("2006-01-02"), name}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return path.Join(parts...)
}

// Put archives body and returns its URI.
func (a *Archive) Put(ctx context.Context, source, noticeID string, day time.Time, body string) (string, error) {
	if a == nil {
		return "", nil
	}
	uri, err := a.store.PutObject(ctx, ObjectPath(a.prefix, source, day, noticeID), a.contentType, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s/%s: %w", source, noticeID, err)
	}
	return uri, nil
}

// Close releases backend resources.
func (a *Archive) Close() error {
	if a == nil || a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func sanitize(segment string) string {
	segment = strings.TrimSpace(segment)
	segment = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(segment)
	if segment == "" {
		return "_"
	}
	return segment
}
