package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// ArtifactStoreConfig controls where artifact rows are written.
type ArtifactStoreConfig struct {
	PoolConfig
	Table string
}

// ArtifactStore writes one row per terminal artifact. It implements crawler.Sink.
type ArtifactStore struct {
	pool  querier
	table string
}

// NewArtifactStore creates a Postgres-backed ArtifactStore using the provided config.
func NewArtifactStore(ctx context.Context, cfg ArtifactStoreConfig) (*ArtifactStore, error) {
	table, err := checkTable(cfg.Table, "artifacts")
	if err != nil {
		return nil, err
	}
	pool, err := newPool(ctx, cfg.PoolConfig)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{pool: pool, table: table}, nil
}

// NewArtifactStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArtifactStoreWithPool(pool querier, table string) (*ArtifactStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "artifacts")
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Accept upserts the artifact keyed by run and URL.
func (s *ArtifactStore) Accept(ctx context.Context, artifact *crawler.Artifact) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact store is not configured")
	}
	if artifact == nil || artifact.URL == "" {
		return fmt.Errorf("artifact url is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(artifact.HTTP.Header))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	extracted := artifact.Extracted
	if extracted == nil {
		extracted = map[string]any{}
	}
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted: %w", err)
	}
	var errorJSON []byte
	if artifact.Error != nil {
		if errorJSON, err = json.Marshal(artifact.Error); err != nil {
			return fmt.Errorf("marshal pipeline error: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	schema_version,
	final_url,
	status_code,
	content_type,
	content_hash,
	content_size,
	headers,
	extracted,
	depth,
	parent_url,
	discovery_method,
	duplicate_of,
	pipeline_error,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (run_id, url) DO UPDATE
SET status_code = EXCLUDED.status_code,
	content_hash = EXCLUDED.content_hash,
	extracted = EXCLUDED.extracted,
	pipeline_error = EXCLUDED.pipeline_error,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		artifact.Crawl.RunID,
		artifact.URL,
		artifact.SchemaVersion,
		artifact.HTTP.FinalURL,
		artifact.HTTP.StatusCode,
		artifact.HTTP.ContentType,
		artifact.Content.Hash,
		artifact.Content.Size,
		headersJSON,
		extractedJSON,
		artifact.Crawl.Depth,
		artifact.Crawl.Parent,
		string(artifact.Crawl.Method),
		artifact.Crawl.Canonical,
		errorJSON,
		artifact.Crawl.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
