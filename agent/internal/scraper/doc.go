// Package scraper fetches the agent's metric source and returns a
// ScrapeResult holding a typed snapshot.
//
// Two source types exist. "exposition" reads a Prometheus text endpoint
// (normally the exporter) and decodes it with pkg/exposition, skipping and
// counting malformed lines. "stub_status" reads nginx's status page, and
// optionally its JSON document, directly through pkg/status.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// shared authRoundTripper in base.go; New() builds one *http.Client per source.
package scraper
