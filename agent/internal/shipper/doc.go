// Package shipper delivers metric batches to the Azure Monitor custom
// metrics API.
//
// Each sample becomes one custom metric document (time, namespace, metric,
// dimension names and a single series with min = max = sum = value and
// count = 1). Labels map to dimensions; scale-set members also carry a VMName
// dimension. A batch is sent as one POST of newline-delimited documents to
// https://{location}.monitoring.azure.com{resourceURI}/metrics with a bearer
// token and a fresh x-ms-client-request-id.
//
// Network errors, 408, 429 and 5xx are Transient and retried with
// exponential backoff up to MaxAttempts, honouring a bounded Retry-After.
// Every other non-2xx status is Permanent and returned at once.
package shipper
