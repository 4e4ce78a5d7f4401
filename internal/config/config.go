// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	LinkCheck LinkCheckConfig `mapstructure:"linkcheck"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the browser session and the list/detail fetch loops.
type CrawlerConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Headless           bool          `mapstructure:"headless"`
	RequestDelay       time.Duration `mapstructure:"request_delay"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	ListBlockedDelay   time.Duration `mapstructure:"list_blocked_delay"`
	DetailBlockedDelay time.Duration `mapstructure:"detail_blocked_delay"`
	ListMaxAttempts    int           `mapstructure:"list_max_attempts"`
	DetailMaxAttempts  int           `mapstructure:"detail_max_attempts"`
	ListTimeout        time.Duration `mapstructure:"list_timeout"`
	DetailTimeout      time.Duration `mapstructure:"detail_timeout"`
	SelectorTimeout    time.Duration `mapstructure:"selector_timeout"`
	MaxItems           int           `mapstructure:"max_items"`
	MaxDetails         int           `mapstructure:"max_details"`
	BlockMarkers       []string      `mapstructure:"block_markers"`
}

// SourcesConfig holds one entry per supported portal.
type SourcesConfig struct {
	KStartup SourceConfig `mapstructure:"kstartup"`
	Bizinfo  SourceConfig `mapstructure:"bizinfo"`
}

// SourceConfig describes where a portal lists notices and how links are built.
type SourceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	ListURL        string `mapstructure:"list_url"`
	ListSelector   string `mapstructure:"list_selector"`
	DetailTemplate string `mapstructure:"detail_template"`
	SearchTemplate string `mapstructure:"search_template"`
	LinkStrategy   string `mapstructure:"link_strategy"`
}

// Builder converts the source's templates into a notice.Builder.
func (s SourceConfig) Builder() (notice.Builder, error) {
	strategy, err := notice.ParseLinkStrategy(s.LinkStrategy)
	if err != nil {
		return notice.Builder{}, err
	}
	b := notice.Builder{
		DetailTemplate: s.DetailTemplate,
		SearchTemplate: s.SearchTemplate,
		Strategy:       strategy,
	}
	if err := b.Validate(); err != nil {
		return notice.Builder{}, err
	}
	return b, nil
}

// LinkCheckConfig configures the content-marker link validator.
type LinkCheckConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Delay   time.Duration `mapstructure:"delay"`
	Markers []string      `mapstructure:"markers"`
}

// LLMConfig configures metadata extraction through Gemini.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchPause      time.Duration `mapstructure:"batch_pause"`
	MaxTextRunes    int           `mapstructure:"max_text_runes"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Temperature     float32       `mapstructure:"temperature"`
	TopP            float32       `mapstructure:"top_p"`
	TopK            float32       `mapstructure:"top_k"`
	MaxOutputTokens int32         `mapstructure:"max_output_tokens"`
}

// StorageConfig controls access to the relational database.
type StorageConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	NaturalKey      string        `mapstructure:"natural_key"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	OutputPath      string        `mapstructure:"output_path"`
}

// ArchiveConfig selects where raw detail bodies are archived.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from .env files, the environment, and an optional YAML file.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env", ".env.local"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("POLICYCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvFallbacks(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads env files without overriding variables already set.
func loadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func applyEnvFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = os.Getenv("DATABASE_URL")
	}
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("crawler.user_agent", browserUserAgent)
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.request_delay", "2s")
	v.SetDefault("crawler.retry_delay", "5s")
	v.SetDefault("crawler.list_blocked_delay", "10s")
	v.SetDefault("crawler.detail_blocked_delay", "15s")
	v.SetDefault("crawler.list_max_attempts", 5)
	v.SetDefault("crawler.detail_max_attempts", 3)
	v.SetDefault("crawler.list_timeout", "60s")
	v.SetDefault("crawler.detail_timeout", "30s")
	v.SetDefault("crawler.selector_timeout", "15s")
	v.SetDefault("crawler.max_items", 50)
	v.SetDefault("crawler.max_details", 20)
	v.SetDefault("crawler.block_markers", []string{"서비스 접속 대기 중", "접속이 차단"})

	v.SetDefault("sources.kstartup.enabled", true)
	v.SetDefault("sources.kstartup.base_url", "https://www.k-startup.go.kr")
	v.SetDefault("sources.kstartup.list_url", "https://www.k-startup.go.kr/web/contents/bizpbanc-ongoing.do")
	v.SetDefault("sources.kstartup.list_selector", "table, .list-board, .board-list, [class*='list']")
	v.SetDefault("sources.kstartup.detail_template",
		"https://www.k-startup.go.kr/web/contents/bizpbanc-detail.do?pbancSn={id}")
	v.SetDefault("sources.kstartup.search_template",
		"https://www.k-startup.go.kr/web/contents/bizpbanc-ongoing.do?schM=list&schStr={query}")
	v.SetDefault("sources.kstartup.link_strategy", string(notice.StrategySearch))

	v.SetDefault("sources.bizinfo.enabled", true)
	v.SetDefault("sources.bizinfo.base_url", "https://www.bizinfo.go.kr")
	v.SetDefault("sources.bizinfo.list_url", "https://www.bizinfo.go.kr/web/lay1/bbs/S1T122C128/AS/74/list.do")
	v.SetDefault("sources.bizinfo.list_selector", `a[href*="selectSIIA200Detail"]`)
	v.SetDefault("sources.bizinfo.detail_template",
		"https://www.bizinfo.go.kr/sii/siia/selectSIIA200Detail.do?pblancId={id}")
	v.SetDefault("sources.bizinfo.search_template",
		"https://www.bizinfo.go.kr/web/lay1/bbs/S1T122C128/AS/74/list.do?condition=searchPblancNm&keyword={query}")
	v.SetDefault("sources.bizinfo.link_strategy", string(notice.StrategyDirect))

	v.SetDefault("linkcheck.timeout", "5s")
	v.SetDefault("linkcheck.delay", "100ms")
	v.SetDefault("linkcheck.markers", []string{"신청기간", "지원내용", "문의처", "담당자", "첨부파일", "사업개요"})

	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.min_interval", "4s")
	v.SetDefault("llm.batch_size", 10)
	v.SetDefault("llm.batch_pause", "2s")
	v.SetDefault("llm.max_text_runes", 12000)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.top_p", 0.8)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_output_tokens", 2048)

	v.SetDefault("storage.table", "policy_funds")
	v.SetDefault("storage.natural_key", "notice_id")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.max_conn_lifetime", "30m")
	v.SetDefault("storage.output_path", "data/policies.json")

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.prefix", "notices")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.ListMaxAttempts <= 0 {
		return fmt.Errorf("crawler.list_max_attempts must be > 0")
	}
	if c.Crawler.DetailMaxAttempts <= 0 {
		return fmt.Errorf("crawler.detail_max_attempts must be > 0")
	}
	if c.Crawler.ListTimeout <= 0 || c.Crawler.DetailTimeout <= 0 {
		return fmt.Errorf("crawler list/detail timeouts must be > 0")
	}
	if c.Crawler.MaxItems < 0 || c.Crawler.MaxDetails < 0 {
		return fmt.Errorf("crawler.max_items and crawler.max_details must be >= 0")
	}
	for name, src := range map[string]SourceConfig{"kstartup": c.Sources.KStartup, "bizinfo": c.Sources.Bizinfo} {
		if !src.Enabled {
			continue
		}
		if src.ListURL == "" {
			return fmt.Errorf("sources.%s.list_url is required", name)
		}
		if _, err := src.Builder(); err != nil {
			return fmt.Errorf("sources.%s: %w", name, err)
		}
	}
	if c.LinkCheck.Timeout <= 0 {
		return fmt.Errorf("linkcheck.timeout must be > 0")
	}
	if c.LLM.BatchSize <= 0 {
		return fmt.Errorf("llm.batch_size must be > 0")
	}
	if c.LLM.MinInterval < 0 || c.LLM.BatchPause < 0 {
		return fmt.Errorf("llm intervals must be >= 0")
	}
	switch c.Storage.NaturalKey {
	case "notice_id", "title":
	default:
		return fmt.Errorf("storage.natural_key must be notice_id or title, got %q", c.Storage.NaturalKey)
	}
	switch c.Archive.Backend {
	case "", "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	return nil
}
