package exposition

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// MaxPayloadBytes bounds how much of a scrape body Decode reads.
const MaxPayloadBytes = 10 << 20

// Decoded is the output of Decode.
type Decoded struct {
	Samples []snapshot.Sample
	// Skipped counts sample lines that could not be parsed.
	Skipped int
}

// Snapshot builds a snapshot of the decoded samples captured at at.
func (d *Decoded) Snapshot(at time.Time) *snapshot.Snapshot {
	b := snapshot.NewBuilder()
	for _, smp := range d.Samples {
		b.RecordSample(smp)
	}
	return b.Build(at)
}

// Decode parses a text exposition. Samples without an explicit timestamp are
// stamped with now. An error is returned only when the payload cannot be read
// or every sample line in it is malformed.
func Decode(r io.Reader, now time.Time) (*Decoded, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("exposition: read payload: %w", err)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err == nil {
		return &Decoded{Samples: samplesOf(mfs, now)}, nil
	}

	out := decodeLines(data, now)
	if out.Skipped > 0 {
		slog.Warn("exposition: skipped malformed lines",
			"skipped", out.Skipped, "decoded", len(out.Samples), "first_err", err)
	}
	if len(out.Samples) == 0 && out.Skipped > 0 {
		return out, fmt.Errorf("exposition: all %d sample lines malformed: %w", out.Skipped, err)
	}
	return out, nil
}

// decodeLines parses each sample line on its own, prefixed with its TYPE
// declaration when one was seen.
func decodeLines(data []byte, now time.Time) *Decoded {
	types := make(map[string]string)
	out := &Decoded{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), MaxPayloadBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			f := strings.Fields(line)
			if len(f) == 4 && f[1] == "TYPE" {
				types[f[2]] = f[3]
			}
			continue
		}

		var doc strings.Builder
		if typ, ok := types[metricName(line)]; ok && (typ == "counter" || typ == "gauge") {
			doc.WriteString("# TYPE " + metricName(line) + " " + typ + "\n")
		}
		doc.WriteString(line)
		doc.WriteByte('\n')

		var parser expfmt.TextParser
		mfs, err := parser.TextToMetricFamilies(strings.NewReader(doc.String()))
		if err != nil || len(mfs) == 0 {
			out.Skipped++
			continue
		}
		out.Samples = append(out.Samples, samplesOf(mfs, now)...)
	}
	return out
}

func metricName(line string) string {
	if i := strings.IndexAny(line, "{ \t"); i >= 0 {
		return line[:i]
	}
	return line
}

// samplesOf flattens metric families into samples, ordered by family name.
// Summaries and histograms become their _sum, _count and per-bucket or
// per-quantile series.
func samplesOf(mfs map[string]*dto.MetricFamily, now time.Time) []snapshot.Sample {
	names := make([]string, 0, len(mfs))
	for name := range mfs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []snapshot.Sample
	for _, name := range names {
		mf := mfs[name]
		for _, m := range mf.GetMetric() {
			at := now
			if m.TimestampMs != nil {
				at = time.UnixMilli(m.GetTimestampMs()).UTC()
			}
			labels := labelsOf(m)
			add := func(n string, k snapshot.Kind, ls snapshot.Labels, v float64) {
				out = append(out, snapshot.Sample{Name: n, Kind: k, Labels: ls, Value: v, ObservedAt: at})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(name, snapshot.Counter, labels, m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				add(name, snapshot.Gauge, labels, m.GetGauge().GetValue())
			case dto.MetricType_SUMMARY:
				s := m.GetSummary()
				add(name+"_sum", snapshot.Counter, labels, s.GetSampleSum())
				add(name+"_count", snapshot.Counter, labels, float64(s.GetSampleCount()))
				for _, q := range s.GetQuantile() {
					add(name, snapshot.Gauge, withLabel(labels, "quantile", formatFloat(q.GetQuantile())), q.GetValue())
				}
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				add(name+"_sum", snapshot.Counter, labels, h.GetSampleSum())
				add(name+"_count", snapshot.Counter, labels, float64(h.GetSampleCount()))
				for _, b := range h.GetBucket() {
					add(name+"_bucket", snapshot.Counter, withLabel(labels, "le", formatFloat(b.GetUpperBound())), float64(b.GetCumulativeCount()))
				}
			default:
				add(name, snapshot.Gauge, labels, m.GetUntyped().GetValue())
			}
		}
	}
	return out
}

func labelsOf(m *dto.Metric) snapshot.Labels {
	if len(m.GetLabel()) == 0 {
		return nil
	}
	ls := make(snapshot.Labels, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		ls = append(ls, snapshot.Label{Name: lp.GetName(), Value: lp.GetValue()})
	}
	return ls
}

func withLabel(ls snapshot.Labels, name, value string) snapshot.Labels {
	out := make(snapshot.Labels, len(ls), len(ls)+1)
	copy(out, ls)
	return append(out, snapshot.Label{Name: name, Value: value})
}

func formatFloat(f float64) string {
	if math.IsInf(f, +1) {
		return "+Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
