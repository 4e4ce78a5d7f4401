// Package api hosts the operator HTTP endpoints served while a crawl runs:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the progress of the current run.
package api
