// Package compute turns consecutive scrape results into the snapshot the
// agent delivers.
//
// Engine keeps the last successful snapshot as its baseline and derives
// requests_per_second from the request counter delta:
// (current - previous) / elapsed seconds, clamped at zero. The rate is omitted
// on the first observation, after a counter reset (current < previous) and
// when elapsed time is not positive. A rate already present in the source is
// kept when none can be derived locally.
//
// An optional include list restricts which series are delivered.
package compute
