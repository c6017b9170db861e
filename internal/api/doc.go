// Package api hosts the HTTP status server for operator access. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs for ad-hoc job submission.
//   - GET /v1/jobs/{job_id} for job status.
//   - GET /v1/stats for engine counters.
package api
