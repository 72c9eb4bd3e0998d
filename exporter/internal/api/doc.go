// Package api implements the exporter's HTTP surface.
//
// New(store, collector) returns an http.Handler that serves:
//
//	GET /metrics  current nginx snapshot plus exporter self-metrics, text format
//	GET /health   "OK" when the last refresh is recent and nginx answers, else 503
//	GET /         small HTML index linking the two
//
// Non-GET methods get 405 with a JSON error body.
package api
