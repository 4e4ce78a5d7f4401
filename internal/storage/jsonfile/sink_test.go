package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

func TestSinkWritesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "policies.json")
	sink, err := New(path, "run-1")
	require.NoError(t, err)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	region := "서울"
	ctx := context.Background()
	require.NoError(t, sink.Upsert(ctx, notice.PolicyRecord{Title: "a", NoticeID: "1", SourceSite: notice.SourceKStartup}))
	require.NoError(t, sink.Upsert(ctx, notice.PolicyRecord{Title: "b", NoticeID: "2", SourceSite: notice.SourceKStartup}))
	require.NoError(t, sink.Upsert(ctx, notice.PolicyRecord{Title: "a2", NoticeID: "1", SourceSite: notice.SourceKStartup, Region: &region}))
	assert.Equal(t, 2, sink.Len())

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second close is a no-op")
	assert.Error(t, sink.Upsert(ctx, notice.PolicyRecord{Title: "late"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "run-1", doc.RunID)
	assert.True(t, fixed.Equal(doc.GeneratedAt))
	require.Len(t, doc.Records, 2)
	assert.Equal(t, "a2", doc.Records[0].Title)
	assert.Equal(t, "서울", *doc.Records[0].Region)
	assert.Contains(t, string(raw), `"content_summary": null`)
}

func TestSinkEmptyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	sink, err := New(path, "run-2")
	require.NoError(t, err)

	keys, err := sink.ExistingKeys(context.Background(), notice.SourceKStartup)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, sink.Close())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"records": []`)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("", "run")
	assert.Error(t, err)
}
