package robots

import (
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Record is the persisted form of a cached Policy.
type Record struct {
	Origin     string    `json:"origin"`
	StatusCode int       `json:"status_code"`
	Body       string    `json:"body,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
	Permissive bool      `json:"permissive"`
}

// Snapshot returns every cached policy.
func (c *Controller) Snapshot() []Record {
	policies := c.cache.Values()
	out := make([]Record, 0, len(policies))
	for _, p := range policies {
		out = append(out, Record{
			Origin:     p.Origin,
			StatusCode: p.StatusCode,
			Body:       string(p.Body),
			FetchedAt:  p.FetchedAt,
			Permissive: p.Permissive,
		})
	}
	return out
}

// Restore seeds the cache with still-fresh records.
func (c *Controller) Restore(records []Record) {
	now := c.clock.Now()
	for _, r := range records {
		if c.cfg.CacheTTL > 0 && now.Sub(r.FetchedAt) > c.cfg.CacheTTL {
			continue
		}
		p := &Policy{
			Origin:     r.Origin,
			StatusCode: r.StatusCode,
			FetchedAt:  r.FetchedAt,
			Permissive: r.Permissive,
		}
		if !r.Permissive {
			data, err := robotstxt.FromString(r.Body)
			if err != nil {
				c.logger.Warn("discarding unparsable robots record", zap.String("origin", r.Origin), zap.Error(err))
				continue
			}
			p.Body = []byte(r.Body)
			p.data = data
		}
		c.cache.Add(r.Origin, p)
	}
}
