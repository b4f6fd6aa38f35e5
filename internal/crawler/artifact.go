package crawler

import (
	"bytes"
	"maps"
	"net/http"
	"slices"
	"time"
)

// SchemaVersion is stamped on every artifact handed to a sink.
const SchemaVersion = "1"

// HTTPInfo is the fetch metadata carried by an artifact.
type HTTPInfo struct {
	StatusCode   int           `json:"status_code"`
	Header       http.Header   `json:"headers,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	FinalURL     string        `json:"final_url,omitempty"`
	ETag         string        `json:"etag,omitempty"`
	LastModified string        `json:"last_modified,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Content is the page body. The engine treats it as opaque bytes.
type Content struct {
	Body []byte `json:"body,omitempty"`
	Hash string `json:"hash,omitempty"`
	Size int    `json:"size"`
}

// CrawlMeta records where the page sits in the crawl.
type CrawlMeta struct {
	RunID     string          `json:"run_id,omitempty"`
	Depth     int             `json:"depth"`
	Parent    string          `json:"parent,omitempty"`
	Method    DiscoveryMethod `json:"method"`
	FetchedAt time.Time       `json:"fetched_at"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Canonical string          `json:"canonical,omitempty"`
}

// Artifact is the per-page unit threaded through the pipeline.
type Artifact struct {
	SchemaVersion string         `json:"schema_version"`
	URL           string         `json:"url"`
	HTTP          HTTPInfo       `json:"http"`
	Content       Content        `json:"content"`
	Links         []string       `json:"links,omitempty"`
	Extracted     map[string]any `json:"extracted,omitempty"`
	Crawl         CrawlMeta      `json:"crawl"`
	Error         *PipelineError `json:"error,omitempty"`
}

// NewArtifact builds an artifact for a successful fetch of entry.
func NewArtifact(entry FrontierEntry, outcome FetchOutcome, fetchedAt time.Time) *Artifact {
	header := outcome.Header.Clone()
	return &Artifact{
		SchemaVersion: SchemaVersion,
		URL:           entry.URL,
		HTTP: HTTPInfo{
			StatusCode:   outcome.StatusCode,
			Header:       header,
			ContentType:  header.Get("Content-Type"),
			FinalURL:     outcome.FinalURL,
			ETag:         header.Get("ETag"),
			LastModified: header.Get("Last-Modified"),
			Elapsed:      outcome.Elapsed,
		},
		Content: Content{
			Body: outcome.Body,
			Size: len(outcome.Body),
		},
		Extracted: map[string]any{},
		Crawl: CrawlMeta{
			Depth:     entry.Depth,
			Parent:    entry.Parent,
			Method:    entry.Method,
			FetchedAt: fetchedAt,
		},
	}
}

// Clone returns a deep copy: headers, body, links, nested extracted values
// and the error are all independently mutable.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	out.HTTP.Header = a.HTTP.Header.Clone()
	out.Content.Body = bytes.Clone(a.Content.Body)
	out.Links = slices.Clone(a.Links)
	out.Extracted = cloneMap(a.Extracted)
	if a.Error != nil {
		e := *a.Error
		out.Error = &e
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	case []byte:
		return bytes.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = cloneMap(item)
		}
		return out
	default:
		return v
	}
}
