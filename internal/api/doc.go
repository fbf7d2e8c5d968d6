// Package api hosts the HTTP server, middleware and handlers for range runs.
// Routes:
//   - POST /v1/runs queues a run and answers with its ID.
//   - POST /v1/runs/sync blocks until the run ends and returns results.csv.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/results for status and export.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
