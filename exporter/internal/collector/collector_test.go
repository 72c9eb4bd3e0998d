package collector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/azmonbridge/azmonbridge/exporter/internal/store"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
	"github.com/azmonbridge/azmonbridge/pkg/status"
)

// fakeSource replays a fixed sequence of fetch outcomes.
type fakeSource struct {
	results []*status.Result
	errs    []error
	calls   int
}

func (f *fakeSource) Fetch(context.Context) (*status.Result, error) {
	i := f.calls
	f.calls++
	return f.results[i], f.errs[i]
}

func (f *fakeSource) Probe(context.Context) error { return nil }

func requests(at time.Time, total float64) *status.Result {
	b := snapshot.NewBuilder()
	b.Record(status.HTTPRequestsTotal, snapshot.Counter, nil, total)
	b.Record(status.ConnectionsActive, snapshot.Gauge, nil, 2)
	return &status.Result{Snapshot: b.Build(at)}
}

func TestRefresh_DerivesRate(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		results: []*status.Result{requests(t0, 100), requests(t0.Add(60*time.Second), 180)},
		errs:    []error{nil, nil},
	}
	st := store.New()
	c := New(src, st, time.Second)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	e, _ := st.Current()
	if _, ok := e.Snapshot.Value(status.RequestsPerSecond); ok {
		t.Error("requests_per_second must be omitted on first observation")
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	e, _ = st.Current()
	rate, ok := e.Snapshot.Value(status.RequestsPerSecond)
	if !ok {
		t.Fatal("requests_per_second missing on second observation")
	}
	if math.Abs(rate-80.0/60.0) > 1e-9 {
		t.Errorf("requests_per_second: got %v, want %v", rate, 80.0/60.0)
	}
	if got := testutil.ToFloat64(c.scrapes.WithLabelValues("success")); got != 2 {
		t.Errorf("scrapes_total{success}: got %v, want 2", got)
	}
}

func TestRefresh_ResetOmitsRate(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		results: []*status.Result{requests(t0, 180), requests(t0.Add(60*time.Second), 50)},
		errs:    []error{nil, nil},
	}
	st := store.New()
	c := New(src, st, time.Second)
	c.Refresh(context.Background()) //nolint:errcheck
	c.Refresh(context.Background()) //nolint:errcheck

	e, _ := st.Current()
	if v, ok := e.Snapshot.Value(status.RequestsPerSecond); ok {
		t.Errorf("requests_per_second after reset: got %v, want omitted", v)
	}
}

func TestRefresh_FailureKeepsPrevious(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	boom := errors.New("connection refused")
	src := &fakeSource{
		results: []*status.Result{requests(t0, 100), {StubErr: boom}},
		errs:    []error{nil, boom},
	}
	st := store.New()
	c := New(src, st, time.Second)

	c.Refresh(context.Background()) //nolint:errcheck
	if err := c.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("second Refresh: got %v, want %v", err, boom)
	}

	e, ok := st.Current()
	if !ok {
		t.Fatal("previous snapshot should survive a failed refresh")
	}
	if v, _ := e.Snapshot.Value(status.HTTPRequestsTotal); v != 100 {
		t.Errorf("http_requests_total: got %v, want 100", v)
	}
	if got := testutil.ToFloat64(c.scrapes.WithLabelValues("failed")); got != 1 {
		t.Errorf("scrapes_total{failed}: got %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.duration); n != 1 {
		t.Errorf("scrape_duration_seconds series: got %d, want 1", n)
	}
}

// carried mirrors what status.Fetcher returns when stub_status fails after a
// good fetch: the old stub series plus fresh JSON series.
func carried(prev *status.Result, at time.Time) *status.Result {
	b := snapshot.NewBuilder()
	b.Merge(prev.Snapshot)
	b.Record(status.StatusInfo, snapshot.Gauge, snapshot.Labels{{Name: "server_name", Value: "s"}}, 1)
	return &status.Result{
		Snapshot:    b.Build(at),
		StubErr:     &status.ParseError{Source: status.SourceStub, Line: 3, Reason: "handled"},
		StubCarried: true,
	}
}

func TestRefresh_StubFailureKeepsSeriesAndBaseline(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r1 := requests(t0, 100)
	r2 := requests(t0.Add(60*time.Second), 160)
	src := &fakeSource{
		results: []*status.Result{
			r1,
			r2,
			carried(r2, t0.Add(120*time.Second)),
			requests(t0.Add(180*time.Second), 280),
		},
		errs: []error{nil, nil, nil, nil},
	}
	st := store.New()
	c := New(src, st, time.Second)

	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh %d: %v", i+1, err)
		}
	}
	e, _ := st.Current()
	if v, ok := e.Snapshot.Value(status.HTTPRequestsTotal); !ok || v != 160 {
		t.Errorf("http_requests_total after stub failure = %v (present=%v), want 160", v, ok)
	}
	if _, ok := e.Snapshot.Value(status.ConnectionsActive); !ok {
		t.Error("connections_active dropped after stub failure")
	}
	if v, ok := e.Snapshot.Value(status.RequestsPerSecond); !ok || v != 1 {
		t.Errorf("requests_per_second after stub failure = %v (present=%v), want last value 1", v, ok)
	}

	// The baseline stayed at the last fresh stub page (t0+60s, 160).
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh 4: %v", err)
	}
	e, _ = st.Current()
	if v, ok := e.Snapshot.Value(status.RequestsPerSecond); !ok || math.Abs(v-1) > 1e-9 {
		t.Errorf("requests_per_second after recovery = %v (present=%v), want 1", v, ok)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		results: []*status.Result{requests(t0, 1)},
		errs:    []error{nil},
	}
	st := store.New()
	c := New(src, st, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := st.Current(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial refresh did not publish a snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
