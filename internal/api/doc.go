// Package api hosts the HTTP query surface over stored tenders. Routes:
//   - GET / and /health for liveness banners.
//   - GET /healthz and /readyz for probes; readyz pings storage.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tenders and POST /v1/tenders/search for filtered, paginated
//     listings in the {status, results, pagination, data} envelope.
package api
