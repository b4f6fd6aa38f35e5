package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/politecrawl/internal/store"
)

// RunStore implements store.RunRepository on the crawl_runs and
// crawl_run_sites tables.
type RunStore struct {
	pool querier
}

// NewRunStore connects to Postgres and ensures the schema exists.
func NewRunStore(ctx context.Context, cfg PoolConfig) (*RunStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &RunStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureSchema creates the run tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS crawl_runs (
			run_id        TEXT PRIMARY KEY,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ,
			status        TEXT NOT NULL,
			error_message TEXT
		);
		CREATE TABLE IF NOT EXISTS crawl_run_sites (
			run_id      TEXT NOT NULL REFERENCES crawl_runs (run_id),
			site        TEXT NOT NULL,
			last_update TIMESTAMPTZ NOT NULL,
			pages       BIGINT NOT NULL DEFAULT 0,
			bytes_total BIGINT NOT NULL DEFAULT 0,
			fetch_2xx   BIGINT NOT NULL DEFAULT 0,
			fetch_3xx   BIGINT NOT NULL DEFAULT 0,
			fetch_4xx   BIGINT NOT NULL DEFAULT 0,
			fetch_5xx   BIGINT NOT NULL DEFAULT 0,
			failed      BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, site)
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create run tables: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun implements store.RunRepository. The original started_at of a
// resumed run is kept.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = NULL, error_message = NULL`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// FinishRun implements store.RunRepository.
func (s *RunStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// AddSiteStats implements store.RunRepository with a single upsert.
func (s *RunStore) AddSiteStats(ctx context.Context, runID, site string, d store.SiteDelta, at time.Time) error {
	query := `
		INSERT INTO crawl_run_sites (
			run_id, site, last_update, pages, bytes_total,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, failed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, site) DO UPDATE
		SET last_update = GREATEST(crawl_run_sites.last_update, EXCLUDED.last_update),
			pages = crawl_run_sites.pages + EXCLUDED.pages,
			bytes_total = crawl_run_sites.bytes_total + EXCLUDED.bytes_total,
			fetch_2xx = crawl_run_sites.fetch_2xx + EXCLUDED.fetch_2xx,
			fetch_3xx = crawl_run_sites.fetch_3xx + EXCLUDED.fetch_3xx,
			fetch_4xx = crawl_run_sites.fetch_4xx + EXCLUDED.fetch_4xx,
			fetch_5xx = crawl_run_sites.fetch_5xx + EXCLUDED.fetch_5xx,
			failed = crawl_run_sites.failed + EXCLUDED.failed`
	_, err := s.pool.Exec(ctx, query,
		runID, site, at, d.Pages, d.Bytes,
		d.Fetch2xx, d.Fetch3xx, d.Fetch4xx, d.Fetch5xx, d.Failed,
	)
	if err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}
