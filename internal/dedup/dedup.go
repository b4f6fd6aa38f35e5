// Package dedup answers "have we seen this?" across runs: per-URL
// conditional-fetch validators and content-hash fingerprints.
//
// Backend failures never fail a URL. A broken backend reads as "no
// conditional state" and "not a duplicate", and the failure is logged and
// counted.
package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/clock/system"
	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/metrics"
)

// Backend persists dedup state. Implementations must be safe for
// concurrent use, and ClaimContent must be atomic per hash.
type Backend interface {
	GetConditional(ctx context.Context, rawURL string) (crawler.ConditionalState, bool, error)
	PutConditional(ctx context.Context, rawURL string, state crawler.ConditionalState) error
	GetContent(ctx context.Context, hash string) (crawler.ContentRecord, bool, error)
	ClaimContent(ctx context.Context, hash, rawURL string, at time.Time) (crawler.ContentRecord, error)
	Close() error
}

// Config tunes duplicate detection.
type Config struct {
	// MinContentLength skips fingerprinting for shorter bodies.
	MinContentLength int
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the clock used for timestamps.
func WithClock(c crawler.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Verdict is the result of fingerprinting one page.
type Verdict struct {
	Hash      string
	Duplicate bool
	// Canonical is the first URL recorded for Hash.
	Canonical string
	// Skipped is set when the body was too short to fingerprint or the
	// store was unavailable.
	Skipped bool
}

// Service implements crawler.ConditionalStore and content dedup on top of a Backend.
type Service struct {
	backend Backend
	hasher  crawler.Hasher
	clock   crawler.Clock
	logger  *zap.Logger
	cfg     Config
}

// New creates a Service.
func New(backend Backend, hasher crawler.Hasher, cfg Config, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		hasher:  hasher,
		clock:   system.New(),
		logger:  zap.NewNop(),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend exposes the underlying store.
func (s *Service) Backend() Backend { return s.backend }

// LookupConditional returns validators recorded for rawURL.
func (s *Service) LookupConditional(ctx context.Context, rawURL string) (crawler.ConditionalState, bool) {
	state, ok, err := s.backend.GetConditional(ctx, rawURL)
	if err != nil {
		s.degrade(&crawler.StoreError{Kind: crawler.StoreConditionalUnavailable, Op: "lookup_conditional", Err: err}, rawURL)
		return crawler.ConditionalState{}, false
	}
	return state, ok
}

// RecordResponse stores validators from a non-304 response.
func (s *Service) RecordResponse(ctx context.Context, rawURL, etag, lastModified string, status int) {
	state := crawler.ConditionalState{
		ETag:         etag,
		LastModified: lastModified,
		LastStatus:   status,
		UpdatedAt:    s.clock.Now(),
	}
	if err := s.backend.PutConditional(ctx, rawURL, state); err != nil {
		s.degrade(&crawler.StoreError{Kind: crawler.StoreConditionalUnavailable, Op: "record_response", Err: err}, rawURL)
	}
}

// Hash fingerprints body with the configured hasher.
func (s *Service) Hash(body []byte) (string, error) {
	return s.hasher.Hash(body)
}

// IsDuplicate reports whether hash was already recorded, and for which URL.
func (s *Service) IsDuplicate(ctx context.Context, hash string) (bool, string) {
	rec, ok, err := s.backend.GetContent(ctx, hash)
	if err != nil {
		s.degrade(&crawler.StoreError{Kind: crawler.StoreDedupUnavailable, Op: "is_duplicate", Err: err}, hash)
		return false, ""
	}
	if !ok {
		return false, ""
	}
	return true, rec.CanonicalURL
}

// RecordContent records rawURL as having produced hash.
func (s *Service) RecordContent(ctx context.Context, hash, rawURL string) {
	if _, err := s.backend.ClaimContent(ctx, hash, rawURL, s.clock.Now()); err != nil {
		s.degrade(&crawler.StoreError{Kind: crawler.StoreDedupUnavailable, Op: "record_content", Err: err}, rawURL)
	}
}

// Check hashes body and records it for rawURL in one step. A page is a
// duplicate when a different URL already owns the hash.
func (s *Service) Check(ctx context.Context, rawURL string, body []byte) Verdict {
	hash, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("Failed to hash content", zap.String("url", rawURL), zap.Error(err))
		return Verdict{Skipped: true}
	}
	if len(body) < s.cfg.MinContentLength {
		return Verdict{Hash: hash, Skipped: true}
	}
	rec, err := s.backend.ClaimContent(ctx, hash, rawURL, s.clock.Now())
	if err != nil {
		s.degrade(&crawler.StoreError{Kind: crawler.StoreDedupUnavailable, Op: "record_content", Err: err}, rawURL)
		return Verdict{Hash: hash, Skipped: true}
	}
	verdict := Verdict{Hash: hash, Canonical: rec.CanonicalURL}
	if rec.CanonicalURL != rawURL {
		verdict.Duplicate = true
		metrics.ObserveDuplicate()
	}
	return verdict
}

// Close closes the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}

func (s *Service) degrade(err *crawler.StoreError, key string) {
	metrics.ObserveStoreError(string(err.Kind))
	s.logger.Warn("Dedup store unavailable, degrading",
		zap.String("op", err.Op),
		zap.String("key", key),
		zap.Error(err),
	)
}
