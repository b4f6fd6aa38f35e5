package ratelimit

import (
	"sort"
	"time"
)

// OriginRecord is the persisted pacing state of one origin.
type OriginRecord struct {
	Origin      string        `json:"origin"`
	NextAllowed time.Time     `json:"next_allowed"`
	Adaptive    time.Duration `json:"adaptive_ns"`
	CrawlDelay  time.Duration `json:"crawl_delay_ns"`
}

// Snapshot returns the state of every known origin, sorted by origin.
func (l *Limiter) Snapshot() []OriginRecord {
	l.mu.Lock()
	origins := make(map[string]*originState, len(l.origins))
	for k, v := range l.origins {
		origins[k] = v
	}
	l.mu.Unlock()

	out := make([]OriginRecord, 0, len(origins))
	for origin, st := range origins {
		st.mu.Lock()
		out = append(out, OriginRecord{
			Origin:      origin,
			NextAllowed: st.next,
			Adaptive:    st.adaptive,
			CrawlDelay:  st.crawlDelay,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// Restore loads previously persisted origin state.
func (l *Limiter) Restore(records []OriginRecord) {
	for _, r := range records {
		st := l.state(r.Origin)
		st.mu.Lock()
		st.next = r.NextAllowed
		st.adaptive = r.Adaptive
		st.crawlDelay = r.CrawlDelay
		st.mu.Unlock()
	}
}
