// Package sqlite persists dedup and incremental state in a SQLite file so
// that repeat crawls can issue conditional requests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS conditional_state (
	url           TEXT PRIMARY KEY,
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	last_status   INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS content_records (
	hash          TEXT PRIMARY KEY,
	canonical_url TEXT NOT NULL,
	seen_count    INTEGER NOT NULL DEFAULT 1,
	first_seen    INTEGER NOT NULL
);
`

// DedupStore is a SQLite-backed dedup backend.
type DedupStore struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path, creating parent directories.
func Open(ctx context.Context, path string) (*DedupStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &DedupStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *DedupStore) Path() string { return s.path }

// Close closes the database.
func (s *DedupStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetConditional returns the stored validators for a URL.
func (s *DedupStore) GetConditional(ctx context.Context, rawURL string) (crawler.ConditionalState, bool, error) {
	var (
		state   crawler.ConditionalState
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT etag, last_modified, last_status, updated_at FROM conditional_state WHERE url = ?`,
		rawURL,
	).Scan(&state.ETag, &state.LastModified, &state.LastStatus, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.ConditionalState{}, false, nil
	}
	if err != nil {
		return crawler.ConditionalState{}, false, fmt.Errorf("query conditional state: %w", err)
	}
	state.UpdatedAt = time.Unix(0, updated).UTC()
	return state, true, nil
}

// PutConditional upserts the validators for a URL.
func (s *DedupStore) PutConditional(ctx context.Context, rawURL string, state crawler.ConditionalState) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO conditional_state (url, etag, last_modified, last_status, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		etag = excluded.etag,
		last_modified = excluded.last_modified,
		last_status = excluded.last_status,
		updated_at = excluded.updated_at`,
		rawURL, state.ETag, state.LastModified, state.LastStatus, state.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert conditional state: %w", err)
	}
	return nil
}

// GetContent returns the record for a content hash.
func (s *DedupStore) GetContent(ctx context.Context, hash string) (crawler.ContentRecord, bool, error) {
	rec := crawler.ContentRecord{Hash: hash}
	var first int64
	err := s.db.QueryRowContext(ctx,
		`SELECT canonical_url, seen_count, first_seen FROM content_records WHERE hash = ?`,
		hash,
	).Scan(&rec.CanonicalURL, &rec.SeenCount, &first)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.ContentRecord{}, false, nil
	}
	if err != nil {
		return crawler.ContentRecord{}, false, fmt.Errorf("query content record: %w", err)
	}
	rec.FirstSeen = time.Unix(0, first).UTC()
	return rec, true, nil
}

// ClaimContent records rawURL under hash in a single statement. The first
// URL stays canonical; later distinct URLs bump the seen count.
func (s *DedupStore) ClaimContent(ctx context.Context, hash, rawURL string, at time.Time) (crawler.ContentRecord, error) {
	rec := crawler.ContentRecord{Hash: hash}
	var first int64
	err := s.db.QueryRowContext(ctx, `
	INSERT INTO content_records (hash, canonical_url, seen_count, first_seen)
	VALUES (?, ?, 1, ?)
	ON CONFLICT(hash) DO UPDATE SET
		seen_count = seen_count + CASE WHEN canonical_url = excluded.canonical_url THEN 0 ELSE 1 END
	RETURNING canonical_url, seen_count, first_seen`,
		hash, rawURL, at.UnixNano(),
	).Scan(&rec.CanonicalURL, &rec.SeenCount, &first)
	if err != nil {
		return crawler.ContentRecord{}, fmt.Errorf("claim content: %w", err)
	}
	rec.FirstSeen = time.Unix(0, first).UTC()
	return rec, nil
}
