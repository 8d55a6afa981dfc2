// Package api hosts the HTTP server, middleware, and REST handlers for
// submitting crawls. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to queue a crawl.
//   - GET /v1/crawls/{crawl_id} and /v1/crawls/{crawl_id}/result to follow it.
package api
