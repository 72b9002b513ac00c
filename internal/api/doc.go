// Package api hosts the HTTP server, middleware, and read-only REST handlers
// over the solicitation catalog. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/solicitations, /v1/solicitations/{id}, and
//     /v1/solicitations/search for solicitations.
//   - GET /v1/topics/search for topics, optionally filtered by the parent
//     solicitation's agency.
package api
