package driver

import "sync/atomic"

// Stats summarises a run. Counters are cumulative across resumes.
type Stats struct {
	Fetched         int64 `json:"fetched"`
	Unchanged       int64 `json:"unchanged"`
	SkippedByPolicy int64 `json:"skipped_by_policy"`
	FailedTerminal  int64 `json:"failed_terminal"`
	Canceled        int64 `json:"canceled"`
	Duplicates      int64 `json:"duplicates"`
	PipelineDropped int64 `json:"pipeline_dropped"`
	PipelineFailed  int64 `json:"pipeline_failed"`
	Delivered       int64 `json:"delivered"`
	SinkFailed      int64 `json:"sink_failed"`
	BytesFetched    int64 `json:"bytes_fetched"`
	// BudgetStop names the budget that ended the last run segment, if any.
	BudgetStop string `json:"budget_stop,omitempty"`
}

type counters struct {
	fetched         atomic.Int64
	unchanged       atomic.Int64
	skippedByPolicy atomic.Int64
	failedTerminal  atomic.Int64
	canceled        atomic.Int64
	duplicates      atomic.Int64
	pipelineDropped atomic.Int64
	pipelineFailed  atomic.Int64
	delivered       atomic.Int64
	sinkFailed      atomic.Int64
	bytesFetched    atomic.Int64
}

func (c *counters) fields() map[string]*atomic.Int64 {
	return map[string]*atomic.Int64{
		"fetched":           &c.fetched,
		"unchanged":         &c.unchanged,
		"skipped_by_policy": &c.skippedByPolicy,
		"failed_terminal":   &c.failedTerminal,
		"canceled":          &c.canceled,
		"duplicates":        &c.duplicates,
		"pipeline_dropped":  &c.pipelineDropped,
		"pipeline_failed":   &c.pipelineFailed,
		"delivered":         &c.delivered,
		"sink_failed":       &c.sinkFailed,
		"bytes_fetched":     &c.bytesFetched,
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Fetched:         c.fetched.Load(),
		Unchanged:       c.unchanged.Load(),
		SkippedByPolicy: c.skippedByPolicy.Load(),
		FailedTerminal:  c.failedTerminal.Load(),
		Canceled:        c.canceled.Load(),
		Duplicates:      c.duplicates.Load(),
		PipelineDropped: c.pipelineDropped.Load(),
		PipelineFailed:  c.pipelineFailed.Load(),
		Delivered:       c.delivered.Load(),
		SinkFailed:      c.sinkFailed.Load(),
		BytesFetched:    c.bytesFetched.Load(),
	}
}

func (c *counters) toMap() map[string]int64 {
	out := make(map[string]int64)
	for name, v := range c.fields() {
		out[name] = v.Load()
	}
	return out
}

func (c *counters) restore(values map[string]int64) {
	for name, v := range c.fields() {
		v.Store(values[name])
	}
}
