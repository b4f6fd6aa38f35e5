package crawler

import (
	"context"
	"time"
)

// Transport issues a single HTTP GET. Non-2xx responses are returned without
// error; transport failures are returned as *FetchError.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Politeness answers robots questions for an origin.
type Politeness interface {
	IsAllowed(ctx context.Context, rawURL, agent string) bool
	CrawlDelay(ctx context.Context, origin string) (time.Duration, bool)
}

// RateLimiter paces requests per origin.
type RateLimiter interface {
	Acquire(ctx context.Context, origin string) error
	RecordOutcome(origin string, status int, retryAfter time.Duration)
	SetCrawlDelay(origin string, delay time.Duration)
}

// ConditionalStore serves the incremental half of the dedup store.
type ConditionalStore interface {
	LookupConditional(ctx context.Context, rawURL string) (ConditionalState, bool)
	RecordResponse(ctx context.Context, rawURL, etag, lastModified string, status int)
}

// Sink receives terminal artifacts.
type Sink interface {
	Accept(ctx context.Context, artifact *Artifact) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for pacing and timestamps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
