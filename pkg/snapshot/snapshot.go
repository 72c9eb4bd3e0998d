package snapshot

import (
	"sort"
	"strings"
	"time"
)

// Kind distinguishes monotonic counters from point-in-time gauges.
type Kind int

const (
	Gauge Kind = iota
	Counter
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	default:
		return "gauge"
	}
}

// Label is one name/value pair of a series.
type Label struct {
	Name  string
	Value string
}

// Labels is an ordered label set. Order is preserved for rendering; series
// identity (Key) does not depend on it.
type Labels []Label

// Map returns the labels as a map.
func (ls Labels) Map() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Name] = l.Value
	}
	return m
}

// Key returns a canonical, order-independent identity for the label set.
func (ls Labels) Key() string {
	if len(ls) == 0 {
		return ""
	}
	sorted := ls.clone()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var b strings.Builder
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteString(`="`)
		b.WriteString(l.Value)
		b.WriteByte('"')
	}
	return b.String()
}

func (ls Labels) clone() Labels {
	if ls == nil {
		return nil
	}
	out := make(Labels, len(ls))
	copy(out, ls)
	return out
}

// Sample is one observation of one series.
type Sample struct {
	Name       string
	Kind       Kind
	Labels     Labels
	Value      float64
	ObservedAt time.Time
}

// SeriesKey identifies the series a sample belongs to: name plus label set.
func (s Sample) SeriesKey() string {
	return seriesKey(s.Name, s.Labels)
}

func seriesKey(name string, labels Labels) string {
	return name + "{" + labels.Key() + "}"
}

// Snapshot is an immutable, timestamped collection of samples.
type Snapshot struct {
	capturedAt time.Time
	samples    []Sample
	index      map[string]int
}

// CapturedAt is the instant the snapshot was built.
func (s *Snapshot) CapturedAt() time.Time {
	return s.capturedAt
}

// Len returns the number of series in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.samples)
}

// Samples returns a copy of the samples in insertion order.
func (s *Snapshot) Samples() []Sample {
	if s == nil {
		return nil
	}
	out := make([]Sample, len(s.samples))
	for i, smp := range s.samples {
		smp.Labels = smp.Labels.clone()
		out[i] = smp
	}
	return out
}

// Lookup returns the sample for the exact series name+labels.
func (s *Snapshot) Lookup(name string, labels Labels) (Sample, bool) {
	if s == nil {
		return Sample{}, false
	}
	i, ok := s.index[seriesKey(name, labels)]
	if !ok {
		return Sample{}, false
	}
	smp := s.samples[i]
	smp.Labels = smp.Labels.clone()
	return smp, true
}

// Value returns the sum of every series named name, and whether any exists.
func (s *Snapshot) Value(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	var (
		total float64
		found bool
	)
	for _, smp := range s.samples {
		if smp.Name == name {
			total += smp.Value
			found = true
		}
	}
	return total, found
}

// DeriveRate computes the per-second rate of counter between prev and s.
//
// The result is clamped to >= 0. ok is false, and the rate must be omitted,
// when prev is nil, the counter is absent from either snapshot, the elapsed
// time is not positive, or the counter went backwards (process restart).
func (s *Snapshot) DeriveRate(counter string, prev *Snapshot) (float64, bool) {
	if s == nil || prev == nil {
		return 0, false
	}
	cur, ok := s.Value(counter)
	if !ok {
		return 0, false
	}
	before, ok := prev.Value(counter)
	if !ok {
		return 0, false
	}
	elapsed := s.capturedAt.Sub(prev.capturedAt).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	if cur < before {
		return 0, false
	}
	rate := (cur - before) / elapsed
	if rate < 0 {
		rate = 0
	}
	return rate, true
}

// Builder assembles a Snapshot. A Builder is not safe for concurrent use.
type Builder struct {
	samples []Sample
	index   map[string]int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Record appends the series, or overwrites its value and kind if the same
// name+labels was already recorded.
func (b *Builder) Record(name string, kind Kind, labels Labels, value float64) {
	b.RecordSample(Sample{Name: name, Kind: kind, Labels: labels, Value: value})
}

// RecordSample is Record for a fully formed sample, keeping its ObservedAt.
func (b *Builder) RecordSample(smp Sample) {
	smp.Labels = smp.Labels.clone()
	key := smp.SeriesKey()
	if i, ok := b.index[key]; ok {
		b.samples[i] = smp
		return
	}
	b.index[key] = len(b.samples)
	b.samples = append(b.samples, smp)
}

// Merge records every sample of s, overwriting series already present.
func (b *Builder) Merge(s *Snapshot) {
	if s == nil {
		return
	}
	for _, smp := range s.samples {
		b.RecordSample(smp)
	}
}

// Len returns the number of series recorded so far.
func (b *Builder) Len() int {
	return len(b.samples)
}

// Build freezes the recorded samples into a Snapshot captured at at.
// Samples without an ObservedAt inherit at. The Builder may be reused; later
// Records do not affect snapshots already built.
func (b *Builder) Build(at time.Time) *Snapshot {
	samples := make([]Sample, len(b.samples))
	index := make(map[string]int, len(b.samples))
	for i, smp := range b.samples {
		if smp.ObservedAt.IsZero() {
			smp.ObservedAt = at
		}
		smp.Labels = smp.Labels.clone()
		samples[i] = smp
		index[smp.SeriesKey()] = i
	}
	return &Snapshot{capturedAt: at, samples: samples, index: index}
}
