package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// DedupStore keeps conditional state and content fingerprints in maps.
// It is the default backend and round-trips through checkpoints.
type DedupStore struct {
	mu          sync.RWMutex
	conditional map[string]crawler.ConditionalState
	content     map[string]crawler.ContentRecord
}

// NewDedupStore constructs an empty DedupStore.
func NewDedupStore() *DedupStore {
	return &DedupStore{
		conditional: make(map[string]crawler.ConditionalState),
		content:     make(map[string]crawler.ContentRecord),
	}
}

// GetConditional returns the stored validators for a URL.
func (s *DedupStore) GetConditional(_ context.Context, rawURL string) (crawler.ConditionalState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.conditional[rawURL]
	return state, ok, nil
}

// PutConditional replaces the validators for a URL.
func (s *DedupStore) PutConditional(_ context.Context, rawURL string, state crawler.ConditionalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditional[rawURL] = state
	return nil
}

// GetContent returns the record for a content hash.
func (s *DedupStore) GetContent(_ context.Context, hash string) (crawler.ContentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.content[hash]
	return rec, ok, nil
}

// ClaimContent records rawURL under hash. The first URL stays canonical;
// later distinct URLs only bump the seen count.
func (s *DedupStore) ClaimContent(_ context.Context, hash, rawURL string, at time.Time) (crawler.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.content[hash]
	switch {
	case !ok:
		rec = crawler.ContentRecord{Hash: hash, CanonicalURL: rawURL, SeenCount: 1, FirstSeen: at}
	case rec.CanonicalURL != rawURL:
		rec.SeenCount++
	default:
		return rec, nil
	}
	s.content[hash] = rec
	return rec, nil
}

// Close is a no-op.
func (s *DedupStore) Close() error { return nil }

// Snapshot is the serializable form of a DedupStore.
type Snapshot struct {
	Conditional map[string]crawler.ConditionalState `json:"conditional"`
	Content     []crawler.ContentRecord             `json:"content"`
}

// Snapshot copies the store contents. Content records are ordered by hash.
func (s *DedupStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Conditional: make(map[string]crawler.ConditionalState, len(s.conditional)),
		Content:     make([]crawler.ContentRecord, 0, len(s.content)),
	}
	for k, v := range s.conditional {
		out.Conditional[k] = v
	}
	for _, rec := range s.content {
		out.Content = append(out.Content, rec)
	}
	sort.Slice(out.Content, func(i, j int) bool { return out.Content[i].Hash < out.Content[j].Hash })
	return out
}

// Restore replaces the store contents with snap.
func (s *DedupStore) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditional = make(map[string]crawler.ConditionalState, len(snap.Conditional))
	for k, v := range snap.Conditional {
		s.conditional[k] = v
	}
	s.content = make(map[string]crawler.ContentRecord, len(snap.Content))
	for _, rec := range snap.Content {
		s.content[rec.Hash] = rec
	}
}
