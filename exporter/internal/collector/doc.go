// Package collector runs the exporter's refresh loop: every interval it
// fetches the nginx status sources, derives requests_per_second against the
// previous snapshot and publishes the result to the store.
//
// A refresh that parses nothing leaves the previous snapshot in place. The
// collector also owns the exporter's own metrics (scrape counts by result and
// scrape duration), registered on a private prometheus.Registry.
package collector
