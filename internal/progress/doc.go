// Package progress is the run journal. The driver emits one event per run
// transition and per dispatched page; a non-blocking Hub batches them on a
// background goroutine and fans each batch out to sinks such as structured
// logs, Prometheus run metrics or the Postgres run tables.
package progress
