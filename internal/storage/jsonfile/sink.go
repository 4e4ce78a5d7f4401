// Package jsonfile collects policy records in memory and writes them as one
// JSON document when closed.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// Document is the file layout.
type Document struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Records     []notice.PolicyRecord `json:"records"`
}

// Sink accumulates records for a single run.
type Sink struct {
	path  string
	runID string
	now   func() time.Time

	mu      sync.Mutex
	records []notice.PolicyRecord
	closed  bool
}

// New creates a sink that writes to path on Close.
func New(path, runID string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	return &Sink{
		path:    path,
		runID:   runID,
		now:     func() time.Time { return time.Now().UTC() },
		records: []notice.PolicyRecord{},
	}, nil
}

// Backend names the sink in metrics.
func (s *Sink) Backend() string {
	return "jsonfile"
}

// Upsert appends rec, replacing an earlier record with the same notice id.
func (s *Sink) Upsert(_ context.Context, rec notice.PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink %s already closed", s.path)
	}
	for i := range s.records {
		if rec.NoticeID != "" && s.records[i].NoticeID == rec.NoticeID && s.records[i].SourceSite == rec.SourceSite {
			s.records[i] = rec
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

// ExistingKeys is always empty: a file sink never skips re-analysis.
func (s *Sink) ExistingKeys(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

// Len reports the number of collected records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close writes the collected records. Parent directories are created as needed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	doc := Document{RunID: s.runID, GeneratedAt: s.now(), Records: s.records}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
