package compute

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/azmonbridge/azmonbridge/agent/internal/scraper"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
	"github.com/azmonbridge/azmonbridge/pkg/status"
)

// requestCounters are the request totals the rate is derived from, in order
// of preference. The second is what the upstream nginx exporter emits.
var requestCounters = []string{status.HTTPRequestsTotal, "nginx_http_requests_total"}

// Result is the snapshot to deliver for one cycle.
type Result struct {
	Timestamp time.Time

	// Snapshot holds the scraped samples plus requests_per_second when it
	// could be derived, restricted to the configured series.
	Snapshot *snapshot.Snapshot

	// Rate is the derived request rate; RateOK is false when it was omitted
	// (first cycle, counter reset, clock anomaly).
	Rate   float64
	RateOK bool
}

// KeyMetrics returns the handful of values logged after each cycle.
func (r *Result) KeyMetrics() map[string]float64 {
	out := make(map[string]float64, 3)
	if v, ok := r.Snapshot.Value(status.ConnectionsActive); ok {
		out["active_connections"] = v
	}
	for _, c := range requestCounters {
		if v, ok := r.Snapshot.Value(c); ok {
			out["total_requests"] = v
			break
		}
	}
	if v, ok := r.Snapshot.Value(status.RequestsPerSecond); ok {
		out["requests_per_second"] = v
	}
	return out
}

// Engine keeps the previous successful snapshot and derives the request rate
// from the delta to the current one.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	prev    *snapshot.Snapshot
	include map[string]bool
}

// NewEngine returns a ready-to-use Engine. When names is non-empty only those
// series (plus the derived rate) are kept in results.
func NewEngine(names ...string) *Engine {
	e := &Engine{}
	if len(names) > 0 {
		e.include = make(map[string]bool, len(names)+1)
		for _, n := range names {
			e.include[n] = true
		}
		e.include[status.RequestsPerSecond] = true
	}
	return e
}

// Process ingests a ScrapeResult and returns the snapshot to deliver.
//
// A failed scrape returns an error and leaves the baseline untouched, so the
// next successful scrape derives its rate across the gap. The same holds for
// a result without a request counter or with carried (stale) series.
func (e *Engine) Process(res *scraper.ScrapeResult) (*Result, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Snapshot == nil || res.Snapshot.Len() == 0 {
		return nil, fmt.Errorf("compute: scrape returned no samples")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := res.Snapshot
	out := &Result{Timestamp: cur.CapturedAt()}

	counter := ""
	for _, c := range requestCounters {
		if _, ok := cur.Value(c); ok {
			counter = c
			break
		}
	}
	if counter != "" && !res.Carried {
		out.Rate, out.RateOK = cur.DeriveRate(counter, e.prev)
		if !out.RateOK && e.prev != nil {
			slog.Debug("compute: request rate omitted", "counter", counter)
		}
	}

	b := snapshot.NewBuilder()
	for _, smp := range cur.Samples() {
		if e.include != nil && !e.include[smp.Name] {
			continue
		}
		b.RecordSample(smp)
	}
	if out.RateOK {
		b.Record(status.RequestsPerSecond, snapshot.Gauge, nil, out.Rate)
	}
	out.Snapshot = b.Build(cur.CapturedAt())

	// Only a fresh request counter moves the baseline.
	if counter != "" && !res.Carried {
		e.prev = cur
	}
	return out, nil
}

// Reset drops the baseline; the next Process omits the rate.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prev = nil
}
