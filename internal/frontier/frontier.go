// Package frontier implements the crawl work queue and visited set.
//
// Entries are dispatched strictly breadth-first: the lowest non-empty depth
// band is always served first, and a band is held back while an in-flight
// entry could still discover URLs for a shallower band. An optional priority
// function reorders entries within a band only.
package frontier

import (
	"container/heap"
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/crawler"
	"github.com/JakeFAU/politecrawl/internal/scope"
)

// Config bounds the traversal.
type Config struct {
	// MaxDepth is the deepest band accepted; negative means unlimited.
	MaxDepth int
	// MaxPages caps dispatched entries; zero means unlimited.
	MaxPages int
}

// PriorityFunc ranks entries inside a depth band; higher runs first.
type PriorityFunc func(crawler.FrontierEntry) float64

// Option customises a Frontier.
type Option func(*Frontier)

// WithScope installs the predicate every offered URL must pass.
func WithScope(p scope.Predicate) Option {
	return func(f *Frontier) { f.scope = p }
}

// WithPriority enables priority ordering within a depth band.
func WithPriority(fn PriorityFunc) Option {
	return func(f *Frontier) { f.priority = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Frontier) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Frontier is safe for concurrent use. Its queue and visited set are only
// mutated through its methods.
type Frontier struct {
	mu         sync.Mutex
	cfg        Config
	bands      []*band
	queued     map[string]struct{}
	visited    map[string]struct{}
	inflight   map[int]int
	dispatched int
	seq        uint64

	scope    scope.Predicate
	priority PriorityFunc
	logger   *zap.Logger
}

// New creates an empty Frontier.
func New(cfg Config, opts ...Option) *Frontier {
	f := &Frontier{
		cfg:      cfg,
		queued:   make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		inflight: make(map[int]int),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Offer normalizes rawURL and enqueues it unless it was already seen, lies
// beyond the maximum depth or fails the scope predicate. A nil error means
// the entry was accepted.
func (f *Frontier) Offer(ctx context.Context, rawURL, parent string, depth int, method crawler.DiscoveryMethod) error {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	if f.cfg.MaxDepth >= 0 && depth > f.cfg.MaxDepth {
		return fmt.Errorf("%w: %d > %d", crawler.ErrDepthExceeded, depth, f.cfg.MaxDepth)
	}
	if f.seen(canonical) {
		return crawler.ErrAlreadySeen
	}

	// The scope check may fetch robots.txt, so it runs without the lock.
	if f.scope != nil {
		u, err := url.Parse(canonical)
		if err != nil {
			return fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err)
		}
		if err := f.scope.Check(ctx, u); err != nil {
			f.logger.Debug("url rejected by scope", zap.String("url", canonical), zap.Error(err))
			return err
		}
	}

	entry := crawler.FrontierEntry{URL: canonical, Depth: depth, Parent: parent, Method: method}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenLocked(canonical) {
		return crawler.ErrAlreadySeen
	}
	f.pushLocked(entry)
	return nil
}

// Next pops the next dispatchable entry and marks it visited in the same
// critical section. It returns false when nothing can be dispatched right
// now: the queue is empty, the page budget is spent, or a shallower band may
// still grow from in-flight work. Callers must report completion with Done.
func (f *Frontier) Next() (crawler.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.budgetSpentLocked() {
		return crawler.FrontierEntry{}, false
	}
	depth, ok := f.lowestBandLocked()
	if !ok {
		return crawler.FrontierEntry{}, false
	}
	if shallow, ok := f.shallowestInflightLocked(); ok && shallow < depth-1 {
		return crawler.FrontierEntry{}, false
	}

	it := heap.Pop(f.bands[depth]).(*item)
	delete(f.queued, it.entry.URL)
	f.visited[it.entry.URL] = struct{}{}
	f.inflight[depth]++
	f.dispatched++
	return it.entry, true
}

// Done releases the in-flight slot taken by Next for entry.
func (f *Frontier) Done(entry crawler.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight[entry.Depth] > 0 {
		f.inflight[entry.Depth]--
	}
	if f.inflight[entry.Depth] == 0 {
		delete(f.inflight, entry.Depth)
	}
}

// MarkVisited records rawURL as dispatched, e.g. the final URL of a redirect,
// so later offers of the same canonical URL are rejected. A queued entry for
// the URL is withdrawn.
func (f *Frontier) MarkVisited(rawURL string) error {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queued, canonical)
	f.visited[canonical] = struct{}{}
	return nil
}

// Visited reports whether rawURL has been dispatched.
func (f *Frontier) Visited(rawURL string) bool {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[canonical]
	return ok
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

// InFlight returns the number of entries handed out by Next and not yet Done.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.inflight {
		n += c
	}
	return n
}

// Exhausted reports whether no further entry will ever be dispatched: nothing
// is in flight and either the queue is empty or the page budget is spent.
func (f *Frontier) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inflight) > 0 {
		return false
	}
	return len(f.queued) == 0 || f.budgetSpentLocked()
}

func (f *Frontier) seen(canonical string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenLocked(canonical)
}

func (f *Frontier) seenLocked(canonical string) bool {
	if _, ok := f.visited[canonical]; ok {
		return true
	}
	_, ok := f.queued[canonical]
	return ok
}

func (f *Frontier) budgetSpentLocked() bool {
	return f.cfg.MaxPages > 0 && f.dispatched >= f.cfg.MaxPages
}

func (f *Frontier) pushLocked(entry crawler.FrontierEntry) {
	for len(f.bands) <= entry.Depth {
		f.bands = append(f.bands, &band{})
	}
	var prio float64
	if f.priority != nil {
		prio = f.priority(entry)
	}
	f.seq++
	heap.Push(f.bands[entry.Depth], &item{entry: entry, priority: prio, seq: f.seq})
	f.queued[entry.URL] = struct{}{}
}

// lowestBandLocked discards withdrawn entries and returns the shallowest
// depth that still holds a queued entry.
func (f *Frontier) lowestBandLocked() (int, bool) {
	for depth, b := range f.bands {
		for b.Len() > 0 {
			top := (*b)[0]
			if _, ok := f.queued[top.entry.URL]; ok {
				return depth, true
			}
			heap.Pop(b)
		}
	}
	return 0, false
}

func (f *Frontier) shallowestInflightLocked() (int, bool) {
	found := false
	low := 0
	for depth := range f.inflight {
		if !found || depth < low {
			low = depth
			found = true
		}
	}
	return low, found
}

// pendingLocked returns queued entries in dispatch order.
func (f *Frontier) pendingLocked() []crawler.FrontierEntry {
	out := make([]crawler.FrontierEntry, 0, len(f.queued))
	for _, b := range f.bands {
		items := make([]*item, 0, b.Len())
		for _, it := range *b {
			if _, ok := f.queued[it.entry.URL]; ok {
				items = append(items, it)
			}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].before(items[j]) })
		for _, it := range items {
			out = append(out, it.entry)
		}
	}
	return out
}
