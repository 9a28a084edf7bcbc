// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET|POST /api/startIndexing to trigger a full indexing run.
//   - GET /api/status and /api/sites for run and site state.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
