// Package api provides the gateway's HTTP servers.
//
// Server is the public listener. Every request runs through the
// authentication pipeline first; requests that pass are routed by their
// first path segment to the matching upstream with that segment removed:
//
//	GET /orders/v1/list?appKey=...&sign=...  ->  GET {orders upstream}/v1/list?appKey=...&sign=...
//
// A service without an upstream answers 404.
//
// The admin router serves the internal port:
//
//	GET    /healthz                       Liveness
//	GET    /readyz                        Readiness (postgres, redis, policy backend)
//	GET    /metrics                       Prometheus metrics
//	GET    /admin/cache/stats             Credential cache statistics
//	DELETE /admin/cache/{appKey}          Drop the entry from both cache tiers
//	POST   /admin/cache/{appKey}/refresh  Reload the entry from the backend
package api
