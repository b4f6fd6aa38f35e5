package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// Frontier rejection sentinels.
var (
	ErrAlreadySeen   = errors.New("url already visited or queued")
	ErrDepthExceeded = errors.New("depth exceeds configured maximum")
	ErrInvalidURL    = errors.New("invalid url")
	ErrBudgetSpent   = errors.New("page budget exhausted")
)

// FetchErrorKind enumerates transport and protocol failures.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchNetwork          FetchErrorKind = "network"
	FetchTimeout          FetchErrorKind = "timeout"
	FetchHTTPStatus       FetchErrorKind = "http-status"
	FetchTooManyRedirects FetchErrorKind = "too-many-redirects"
	FetchBodyTooLarge     FetchErrorKind = "body-too-large"
)

// FetchError describes why a fetch attempt failed.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchHTTPStatus:
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchNetwork, FetchTimeout:
		return true
	case FetchHTTPStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// PolicyErrorKind enumerates reasons a URL is skipped.
type PolicyErrorKind string

// Policy error kinds.
const (
	PolicyDisallowedByRobots PolicyErrorKind = "disallowed-by-robots"
	PolicyOutOfScope         PolicyErrorKind = "out-of-scope"
)

// PolicyError is a normal terminal skip, not a failure.
type PolicyError struct {
	Kind   PolicyErrorKind
	URL    string
	Reason string
}

func (e *PolicyError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("skip %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("skip %s: %s (%s)", e.URL, e.Kind, e.Reason)
}

// OutOfScope builds a PolicyError for a scope rejection.
func OutOfScope(rawURL, reason string) *PolicyError {
	return &PolicyError{Kind: PolicyOutOfScope, URL: rawURL, Reason: reason}
}

// PipelineErrorKind enumerates pipeline stage failures.
type PipelineErrorKind string

// Pipeline error kinds.
const (
	PipelineStageFailed  PipelineErrorKind = "stage-failed"
	PipelineStageDropped PipelineErrorKind = "stage-dropped"
)

// PipelineError identifies the stage that failed or dropped an artifact.
type PipelineError struct {
	Kind   PipelineErrorKind `json:"kind"`
	Stage  string            `json:"stage"`
	Reason string            `json:"reason,omitempty"`
	Err    error             `json:"-"`
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("pipeline stage %q: %s", e.Stage, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// StoreErrorKind enumerates dedup/incremental store failures.
type StoreErrorKind string

// Store error kinds.
const (
	StoreConditionalUnavailable StoreErrorKind = "conditional-state-unavailable"
	StoreDedupUnavailable       StoreErrorKind = "dedup-store-unavailable"
)

// StoreError wraps a backend failure; callers degrade instead of failing the URL.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
