package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azmonbridge/azmonbridge/exporter/internal/store"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
	"github.com/azmonbridge/azmonbridge/pkg/status"
)

// Source is the subset of status.Fetcher the collector depends on.
type Source interface {
	Fetch(ctx context.Context) (*status.Result, error)
	Probe(ctx context.Context) error
}

// Collector refreshes the store from a Source on a fixed interval.
type Collector struct {
	src      Source
	store    *store.Store
	interval time.Duration

	registry *prometheus.Registry
	scrapes  *prometheus.CounterVec
	duration prometheus.Histogram

	// prev is only touched by Refresh, which Run calls sequentially.
	prev *snapshot.Snapshot
}

// New creates a Collector publishing into st every interval.
func New(src Source, st *store.Store, interval time.Duration) *Collector {
	c := &Collector{
		src:      src,
		store:    st,
		interval: interval,
		registry: prometheus.NewRegistry(),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nginx_exporter_scrapes_total",
			Help: "Total scrapes by the exporter",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nginx_exporter_scrape_duration_seconds",
			Help:    "Duration of scrapes by the exporter",
			Buckets: prometheus.DefBuckets,
		}),
	}
	c.registry.MustRegister(c.scrapes, c.duration)
	return c
}

// Gatherer exposes the exporter's own metrics.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Interval returns the configured refresh interval.
func (c *Collector) Interval() time.Duration { return c.interval }

// Probe checks that the stub_status endpoint currently answers.
func (c *Collector) Probe(ctx context.Context) error { return c.src.Probe(ctx) }

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh performs one fetch-and-publish cycle. On total failure the
// previous snapshot stays current and the error is returned.
func (c *Collector) Refresh(ctx context.Context) error {
	start := time.Now()
	c.store.MarkAttempt()
	res, err := c.src.Fetch(ctx)
	c.duration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.scrapes.WithLabelValues("failed").Inc()
		slog.Warn("collector: refresh failed, keeping previous snapshot", "err", err)
		return err
	}
	if res.StubErr != nil {
		slog.Warn("collector: stub_status source failed", "err", res.StubErr)
	}
	if res.JSONErr != nil {
		slog.Warn("collector: json status source failed", "err", res.JSONErr)
	}

	var snap *snapshot.Snapshot
	if res.StubCarried {
		// Carried counters are stale: keep the baseline and the last
		// published rate.
		snap = withLastRate(res.Snapshot, c.prev)
	} else {
		snap = withRate(res.Snapshot, c.prev)
		if _, ok := snap.Value(status.HTTPRequestsTotal); ok {
			c.prev = snap
		}
	}
	c.store.Put(snap)
	c.scrapes.WithLabelValues("success").Inc()

	slog.Debug("collector: refresh complete",
		"series", snap.Len(),
		"duration", time.Since(start),
	)
	return nil
}

// withRate returns cur extended with requests_per_second derived against
// prev. The rate is omitted on the first observation and on counter resets.
func withRate(cur, prev *snapshot.Snapshot) *snapshot.Snapshot {
	rate, ok := cur.DeriveRate(status.HTTPRequestsTotal, prev)
	if !ok {
		return cur
	}
	b := snapshot.NewBuilder()
	b.Merge(cur)
	b.Record(status.RequestsPerSecond, snapshot.Gauge, nil, rate)
	return b.Build(cur.CapturedAt())
}

// withLastRate returns cur extended with the requests_per_second found in
// prev, if any.
func withLastRate(cur, prev *snapshot.Snapshot) *snapshot.Snapshot {
	rate, ok := prev.Value(status.RequestsPerSecond)
	if !ok {
		return cur
	}
	b := snapshot.NewBuilder()
	b.Merge(cur)
	b.Record(status.RequestsPerSecond, snapshot.Gauge, nil, rate)
	return b.Build(cur.CapturedAt())
}
