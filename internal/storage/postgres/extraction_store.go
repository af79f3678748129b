// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

// DefaultTable is used when ExtractionStoreConfig.Table is empty.
const DefaultTable = "extractions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ExtractionStoreConfig controls the Postgres connection pool used for
// extraction rows.
type ExtractionStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// ExtractionStore writes one row per successful extraction.
type ExtractionStore struct {
	pool  pool
	table string
}

// NewExtractionStore connects to Postgres using cfg.
func NewExtractionStore(ctx context.Context, cfg ExtractionStoreConfig) (*ExtractionStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &ExtractionStore{pool: p, table: table}, nil
}

// NewExtractionStoreWithPool constructs a store from an existing pool.
func NewExtractionStoreWithPool(p pool, table string) (*ExtractionStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ExtractionStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ExtractionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *ExtractionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the extraction table when it does not exist.
func (s *ExtractionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            uuid PRIMARY KEY,
	partition_ts  timestamptz NOT NULL,
	fetched_at    timestamptz NOT NULL,
	url           text NOT NULL,
	final_url     text NOT NULL,
	status_code   integer NOT NULL,
	content_hash  text NOT NULL,
	blob_uri      text,
	title         text,
	description   text,
	image_url     text,
	price         text,
	duration_ms   bigint NOT NULL,
	used_headless boolean NOT NULL DEFAULT false
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// StoreExtraction implements scraper.ExtractionStore.
func (s *ExtractionStore) StoreExtraction(ctx context.Context, record scraper.ExtractionRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("extraction store is not configured")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	partition_ts,
	fetched_at,
	url,
	final_url,
	status_code,
	content_hash,
	blob_uri,
	title,
	description,
	image_url,
	price,
	duration_ms,
	used_headless
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.table)

	args := []any{
		record.ID,
		record.FetchedAt.Truncate(time.Hour),
		record.FetchedAt,
		record.URL,
		record.FinalURL,
		record.StatusCode,
		record.ContentHash,
		nullable(record.BlobURI),
		nullable(record.Metadata.Title),
		nullable(record.Metadata.Description),
		nullable(record.Metadata.ImageURL),
		nullable(record.Metadata.Price),
		record.DurationMs,
		record.UsedHeadless,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

// nullable maps a missing field to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
