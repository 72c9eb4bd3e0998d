// Package security probes TLS endpoints used by the agent: the custom
// metrics ingestion host and HTTPS metric sources. The health check uses it
// to prove the network path and certificate chain without sending data.
package security
