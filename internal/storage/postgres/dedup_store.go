package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// DedupStore keeps conditional state and content fingerprints in Postgres,
// shared by every crawler process pointed at the same database.
type DedupStore struct {
	pool querier
}

// NewDedupStore connects to Postgres and ensures the schema exists.
func NewDedupStore(ctx context.Context, cfg PoolConfig) (*DedupStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &DedupStore{pool: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewDedupStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDedupStoreWithPool(pool querier) (*DedupStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DedupStore{pool: pool}, nil
}

// EnsureSchema creates the dedup tables when missing.
func (s *DedupStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS conditional_state (
			url           TEXT PRIMARY KEY,
			etag          TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			last_status   INTEGER NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS content_records (
			hash          TEXT PRIMARY KEY,
			canonical_url TEXT NOT NULL,
			seen_count    INTEGER NOT NULL DEFAULT 1,
			first_seen    TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create dedup tables: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *DedupStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetConditional returns the stored validators for a URL.
func (s *DedupStore) GetConditional(ctx context.Context, rawURL string) (crawler.ConditionalState, bool, error) {
	var state crawler.ConditionalState
	err := s.pool.QueryRow(ctx,
		`SELECT etag, last_modified, last_status, updated_at FROM conditional_state WHERE url = $1`,
		rawURL,
	).Scan(&state.ETag, &state.LastModified, &state.LastStatus, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ConditionalState{}, false, nil
	}
	if err != nil {
		return crawler.ConditionalState{}, false, fmt.Errorf("query conditional state: %w", err)
	}
	return state, true, nil
}

// PutConditional upserts the validators for a URL.
func (s *DedupStore) PutConditional(ctx context.Context, rawURL string, state crawler.ConditionalState) error {
	query := `
		INSERT INTO conditional_state (url, etag, last_modified, last_status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url) DO UPDATE
		SET etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			last_status = EXCLUDED.last_status,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query, rawURL, state.ETag, state.LastModified, state.LastStatus, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert conditional state: %w", err)
	}
	return nil
}

// GetContent returns the record for a content hash.
func (s *DedupStore) GetContent(ctx context.Context, hash string) (crawler.ContentRecord, bool, error) {
	rec := crawler.ContentRecord{Hash: hash}
	err := s.pool.QueryRow(ctx,
		`SELECT canonical_url, seen_count, first_seen FROM content_records WHERE hash = $1`,
		hash,
	).Scan(&rec.CanonicalURL, &rec.SeenCount, &rec.FirstSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ContentRecord{}, false, nil
	}
	if err != nil {
		return crawler.ContentRecord{}, false, fmt.Errorf("query content record: %w", err)
	}
	return rec, true, nil
}

// ClaimContent records rawURL under hash atomically. The first URL stays
// canonical; later distinct URLs bump the seen count.
func (s *DedupStore) ClaimContent(ctx context.Context, hash, rawURL string, at time.Time) (crawler.ContentRecord, error) {
	query := `
		INSERT INTO content_records (hash, canonical_url, seen_count, first_seen)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (hash) DO UPDATE
		SET seen_count = content_records.seen_count +
			CASE WHEN content_records.canonical_url = EXCLUDED.canonical_url THEN 0 ELSE 1 END
		RETURNING canonical_url, seen_count, first_seen;
	`
	rec := crawler.ContentRecord{Hash: hash}
	err := s.pool.QueryRow(ctx, query, hash, rawURL, at).Scan(&rec.CanonicalURL, &rec.SeenCount, &rec.FirstSeen)
	if err != nil {
		return crawler.ContentRecord{}, fmt.Errorf("claim content: %w", err)
	}
	return rec, nil
}
