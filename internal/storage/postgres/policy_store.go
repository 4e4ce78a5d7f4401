// Package postgres provides Postgres-backed persistence for policy records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds policy records when no table is configured.
const DefaultTable = "policy_funds"

// ErrMissingKey rejects records without a value for the natural key.
var ErrMissingKey = errors.New("record has no natural key")

// Config controls the Postgres connection pool and the target table.
type Config struct {
	DSN   string
	Table string
	// NaturalKey is the conflict column for upserts: "notice_id" or "title".
	NaturalKey      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// PolicyStore upserts policy records into Postgres.
type PolicyStore struct {
	pool       pool
	table      string
	naturalKey string
}

// NewPolicyStore connects a pool using cfg.
func NewPolicyStore(ctx context.Context, cfg Config) (*PolicyStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewPolicyStoreWithPool(p, cfg.Table, cfg.NaturalKey)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewPolicyStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPolicyStoreWithPool(p pool, table, naturalKey string) (*PolicyStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	switch naturalKey {
	case "":
		naturalKey = "notice_id"
	case "notice_id", "title":
	default:
		return nil, fmt.Errorf("invalid natural key %q", naturalKey)
	}
	return &PolicyStore{pool: p, table: table, naturalKey: naturalKey}, nil
}

// Backend names the store in metrics.
func (s *PolicyStore) Backend() string {
	return "postgres"
}

// Close releases the underlying pool resources.
func (s *PolicyStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the records table, its indexes and the run log if missing.
func (s *PolicyStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table, s.naturalKey) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// schemaStatements makes only the natural key unique; the other candidate key
// gets a plain index so rows that share it upsert cleanly.
func schemaStatements(table, naturalKey string) []string {
	other := "title"
	if naturalKey == "title" {
		other = "notice_id"
	}
	stmts := []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	source_site TEXT NOT NULL,
	notice_id TEXT,
	link TEXT,
	url TEXT,
	content_summary TEXT,
	region TEXT,
	biz_age TEXT,
	industry TEXT,
	target_group TEXT,
	support_type TEXT,
	amount TEXT,
	agency TEXT,
	application_period TEXT,
	application_method TEXT,
	inquiry TEXT,
	roadmap_stage JSONB NOT NULL DEFAULT '[]'::jsonb,
	required_documents_count INTEGER NOT NULL DEFAULT 0,
	required_documents_list JSONB NOT NULL DEFAULT '[]'::jsonb,
	raw_content TEXT,
	archive_uri TEXT,
	analysis_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT %s_%s_key UNIQUE (%s)
)`, table, table, naturalKey, naturalKey)}
	stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s_%s_key`, table, table, other))

	for _, col := range []string{other, "source_site", "region", "industry", "biz_age", "target_group", "required_documents_count"} {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)`, table, col, table, col))
	}
	for _, col := range []string{"roadmap_stage", "required_documents_list"} {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s USING GIN (%s)`, table, col, table, col))
	}
	return append(stmts, runsSchema)
}

// recordColumns are written by Upsert in this order.
var recordColumns = []string{
	"title", "source_site", "notice_id", "link", "url",
	"content_summary", "region", "biz_age", "industry", "target_group",
	"support_type", "amount", "agency", "application_period", "application_method", "inquiry",
	"roadmap_stage", "required_documents_count", "required_documents_list",
	"raw_content", "archive_uri", "analysis_error",
}

// Upsert inserts rec or updates the row sharing its natural key.
func (s *PolicyStore) Upsert(ctx context.Context, rec notice.PolicyRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("policy store is not configured")
	}
	if strings.TrimSpace(rec.Key(s.naturalKey)) == "" {
		return fmt.Errorf("upsert %q: %w %s", rec.Title, ErrMissingKey, s.naturalKey)
	}
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.upsertQuery(), args...); err != nil {
		return fmt.Errorf("upsert policy %s: %w", rec.Key(s.naturalKey), err)
	}
	return nil
}

func (s *PolicyStore) upsertQuery() string {
	placeholders := make([]string, len(recordColumns))
	updates := make([]string, 0, len(recordColumns))
	for i, col := range recordColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != s.naturalKey {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	updates = append(updates, "updated_at = NOW()")
	return fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES (%s)
ON CONFLICT (%s) DO UPDATE SET %s`,
		s.table,
		strings.Join(recordColumns, ", "),
		strings.Join(placeholders, ", "),
		s.naturalKey,
		strings.Join(updates, ", "),
	)
}

func recordArgs(rec notice.PolicyRecord) ([]any, error) {
	roadmap, err := json.Marshal(nonNil(rec.RoadmapStage))
	if err != nil {
		return nil, fmt.Errorf("marshal roadmap_stage: %w", err)
	}
	docs, err := json.Marshal(nonNil(rec.RequiredDocumentsList))
	if err != nil {
		return nil, fmt.Errorf("marshal required_documents_list: %w", err)
	}
	return []any{
		rec.Title,
		rec.SourceSite,
		nullable(rec.NoticeID),
		nullable(rec.Link),
		nullable(rec.URL),
		rec.Summary,
		rec.Region,
		rec.BizAge,
		rec.Industry,
		rec.TargetGroup,
		rec.SupportType,
		rec.Amount,
		rec.Agency,
		rec.ApplicationPeriod,
		rec.ApplicationMethod,
		rec.Inquiry,
		roadmap,
		rec.RequiredDocumentsCount,
		docs,
		nullable(rec.RawContent),
		nullable(rec.ArchiveURI),
		nullable(rec.AnalysisError),
	}, nil
}

// ExistingKeys returns the natural keys of a source's rows that already carry
// analysis results and a link.
func (s *PolicyStore) ExistingKeys(ctx context.Context, source string) (map[string]struct{}, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE source_site = $1
  AND content_summary IS NOT NULL
  AND link IS NOT NULL
  AND %s IS NOT NULL`, s.naturalKey, s.table, s.naturalKey)

	rows, err := s.pool.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan existing key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing keys: %w", err)
	}
	return keys, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
