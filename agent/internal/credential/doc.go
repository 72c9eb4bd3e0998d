// Package credential obtains bearer tokens for the Azure Monitor ingestion
// API.
//
// Two strategies implement Strategy: ManagedIdentity asks the instance
// metadata service for a token, ServicePrincipal runs the OAuth2 client
// credentials flow against the tenant's token endpoint. Provider tries its
// strategies in order, caches the first credential obtained and refreshes it
// once it is within the refresh margin of expiry. Concurrent callers during a
// refresh share one token request.
//
// Credentials live in memory only.
package credential
