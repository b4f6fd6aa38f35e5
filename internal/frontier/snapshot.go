package frontier

import (
	"sort"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

// Snapshot is the serializable state of a Frontier. Entries that were in
// flight when it was taken appear only in Visited and are not requeued.
type Snapshot struct {
	Pending    []crawler.FrontierEntry `json:"pending"`
	Visited    []string                `json:"visited"`
	Dispatched int                     `json:"dispatched"`
}

// Snapshot captures the queue in dispatch order and the visited set.
func (f *Frontier) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	visited := make([]string, 0, len(f.visited))
	for u := range f.visited {
		visited = append(visited, u)
	}
	sort.Strings(visited)
	return Snapshot{
		Pending:    f.pendingLocked(),
		Visited:    visited,
		Dispatched: f.dispatched,
	}
}

// Restore replaces the frontier's state with s. Restored entries bypass the
// scope predicate; they passed it when first offered.
func (f *Frontier) Restore(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bands = nil
	f.queued = make(map[string]struct{}, len(s.Pending))
	f.visited = make(map[string]struct{}, len(s.Visited))
	f.inflight = make(map[int]int)
	f.dispatched = s.Dispatched
	for _, u := range s.Visited {
		f.visited[u] = struct{}{}
	}
	for _, entry := range s.Pending {
		if f.seenLocked(entry.URL) {
			continue
		}
		f.pushLocked(entry)
	}
}
