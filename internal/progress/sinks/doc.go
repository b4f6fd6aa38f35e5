// Package sinks implements progress consumers: structured logs, Prometheus
// run metrics and the Postgres run repository.
package sinks
