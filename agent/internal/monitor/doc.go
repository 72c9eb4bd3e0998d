// Package monitor drives the agent's collection cycle.
//
// Each cycle scrapes the configured source, derives the request rate,
// resolves the target resource (cached), acquires a bearer token (cached)
// and sends one batch to the custom metrics API. Cycles run sequentially on
// a fixed interval. A failed cycle moves the Orchestrator to Degraded and is
// counted; once the consecutive failure count reaches the unhealthy
// threshold Health reports unhealthy and configured webhooks are notified.
// The next successful cycle returns the state to Running.
//
// The cached resource identity is dropped after ReresolveAfter consecutive
// resolution or delivery failures, or at once when the ingestion API answers
// 404. A 401 drops the cached token.
package monitor
