// Package api hosts the HTTP server, middleware, and REST handlers for the
// metadata service. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET|POST /v1/metadata for single URL extraction.
//   - POST /v1/metadata/batch for bounded fan-out over several URLs.
package api
