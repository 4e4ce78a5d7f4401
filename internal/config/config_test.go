package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Crawler.RequestDelay)
	assert.Equal(t, 5*time.Second, cfg.Crawler.RetryDelay)
	assert.Equal(t, 15*time.Second, cfg.Crawler.DetailBlockedDelay)
	assert.Equal(t, 3, cfg.Crawler.DetailMaxAttempts)
	assert.Equal(t, []string{"서비스 접속 대기 중", "접속이 차단"}, cfg.Crawler.BlockMarkers)
	assert.Equal(t, 4*time.Second, cfg.LLM.MinInterval)
	assert.Equal(t, 10, cfg.LLM.BatchSize)
	assert.Equal(t, "notice_id", cfg.Storage.NaturalKey)
	assert.Len(t, cfg.LinkCheck.Markers, 6)

	b, err := cfg.Sources.KStartup.Builder()
	require.NoError(t, err)
	assert.Equal(t, notice.StrategySearch, b.Strategy)

	b, err = cfg.Sources.Bizinfo.Builder()
	require.NoError(t, err)
	assert.Equal(t, notice.StrategyDirect, b.Strategy)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
crawler:
  detail_max_attempts: 5
  request_delay: 500ms
sources:
  kstartup:
    link_strategy: validated
  bizinfo:
    enabled: false
llm:
  batch_size: 3
storage:
  natural_key: title
archive:
  backend: local
  base_dir: /tmp/archive
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 5, cfg.Crawler.DetailMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawler.RequestDelay)
	assert.Equal(t, "validated", cfg.Sources.KStartup.LinkStrategy)
	assert.False(t, cfg.Sources.Bizinfo.Enabled)
	assert.Equal(t, 3, cfg.LLM.BatchSize)
	assert.Equal(t, "title", cfg.Storage.NaturalKey)
	assert.Equal(t, "local", cfg.Archive.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLICYCRAWLER_CRAWLER_MAX_DETAILS", "7")
	t.Setenv("POLICYCRAWLER_LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "fallback-key")
	t.Setenv("DATABASE_URL", "postgres://localhost/policies")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Crawler.MaxDetails)
	assert.Equal(t, "fallback-key", cfg.LLM.APIKey)
	assert.Equal(t, "postgres://localhost/policies", cfg.Storage.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"natural key":      func(c *Config) { c.Storage.NaturalKey = "id" },
		"strategy":         func(c *Config) { c.Sources.KStartup.LinkStrategy = "sideways" },
		"detail template":  func(c *Config) { c.Sources.KStartup.DetailTemplate = "https://x/detail" },
		"batch size":       func(c *Config) { c.LLM.BatchSize = 0 },
		"detail attempts":  func(c *Config) { c.Crawler.DetailMaxAttempts = 0 },
		"archive backend":  func(c *Config) { c.Archive.Backend = "s3" },
		"gcs needs bucket": func(c *Config) { c.Archive.Backend = "gcs"; c.Archive.Bucket = "" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	disabled := base
	disabled.Sources.Bizinfo.Enabled = false
	disabled.Sources.Bizinfo.DetailTemplate = ""
	assert.NoError(t, disabled.Validate())
}
