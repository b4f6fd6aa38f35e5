// Package api hosts the admin HTTP server for a running crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for run counters, queue depth and pause state.
//   - POST /v1/pause and /v1/resume to suspend and continue dispatching.
//   - POST /v1/checkpoint to write the resumable state file.
package api
