// Package api hosts the HTTP server, middleware, and REST handlers for
// starting jobs and streaming their progress. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs for job submission, GET /v1/jobs[/{id}] for status.
//   - GET /v1/jobs/{id}/events for the SSE progress stream.
//   - GET /v1/jobs/{id}/ws for the same stream over a WebSocket.
package api
