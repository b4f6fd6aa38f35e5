package store

import (
	"context"
	"time"
)

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunInterrupted RunStatus = "interrupted"
	RunError       RunStatus = "error"
)

// SiteDelta is an increment to one site's counters within a run.
type SiteDelta struct {
	Pages    int64
	Bytes    int64
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
	// Failed counts pages that ended without a usable response.
	Failed int64
}

// IsZero reports whether the delta changes nothing.
func (d SiteDelta) IsZero() bool {
	return d == SiteDelta{}
}

// RunRepository persists the run journal.
type RunRepository interface {
	// StartRun records a run as running. A resumed run reuses its id and is
	// set back to running.
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	// FinishRun marks the run with a terminal status.
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddSiteStats applies delta to (runID, site).
	AddSiteStats(ctx context.Context, runID, site string, delta SiteDelta, at time.Time) error
}
