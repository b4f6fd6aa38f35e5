package crawler

import (
	"net/http"
	"time"
)

// DiscoveryMethod records how a URL entered the frontier.
type DiscoveryMethod string

// Discovery methods stamped on frontier entries and artifacts.
const (
	DiscoverySeed     DiscoveryMethod = "seed"
	DiscoveryLink     DiscoveryMethod = "link"
	DiscoveryRedirect DiscoveryMethod = "redirect"
	DiscoverySitemap  DiscoveryMethod = "sitemap"
)

// FrontierEntry is one unit of crawl work. URL is always canonical.
type FrontierEntry struct {
	URL    string          `json:"url"`
	Depth  int             `json:"depth"`
	Parent string          `json:"parent,omitempty"`
	Method DiscoveryMethod `json:"method"`
}

// OutcomeKind classifies the terminal attempt of a dispatch.
type OutcomeKind string

// Outcome kinds reported by the dispatcher.
const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeNotModified      OutcomeKind = "not-modified"
	OutcomeHTTPError        OutcomeKind = "http-error"
	OutcomeNetworkError     OutcomeKind = "network-error"
	OutcomeTimeout          OutcomeKind = "timeout"
	OutcomeTooLarge         OutcomeKind = "too-large"
	OutcomeTooManyRedirects OutcomeKind = "too-many-redirects"
	OutcomeSkipped          OutcomeKind = "skipped-by-policy"
	OutcomeCanceled         OutcomeKind = "canceled"
)

// FetchOutcome is the retained result of the last attempt for an entry.
type FetchOutcome struct {
	Kind       OutcomeKind
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
	Err        error
}

// Failed reports whether the outcome is a terminal failure.
func (o FetchOutcome) Failed() bool {
	switch o.Kind {
	case OutcomeSuccess, OutcomeNotModified, OutcomeSkipped:
		return false
	default:
		return true
	}
}

// ConditionalState is the per-URL validator state used for conditional fetches.
type ConditionalState struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	LastStatus   int       `json:"last_status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasValidators reports whether a conditional request can be built.
func (c ConditionalState) HasValidators() bool {
	return c.ETag != "" || c.LastModified != ""
}

// ContentRecord maps a content hash to the first URL that produced it.
type ContentRecord struct {
	Hash         string    `json:"hash"`
	CanonicalURL string    `json:"canonical_url"`
	SeenCount    int       `json:"seen_count"`
	FirstSeen    time.Time `json:"first_seen"`
}

// Request is what the dispatcher hands to a Transport.
type Request struct {
	URL    string
	Header http.Header
}

// Response is a fully read, size-capped HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}
