// Package api hosts the operator HTTP server and its middleware. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/latest for the last finished run report.
//   - GET /v1/runs/state for the coordinator's current state.
package api
