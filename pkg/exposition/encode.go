package exposition

import (
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// ContentType is the Content-Type of encoded output.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

// Families groups the snapshot's samples into metric families, in order of
// first appearance. The kind of the first sample decides the family type.
func Families(snap *snapshot.Snapshot) []*dto.MetricFamily {
	var (
		out    []*dto.MetricFamily
		byName = make(map[string]*dto.MetricFamily)
	)
	for _, smp := range snap.Samples() {
		mf, ok := byName[smp.Name]
		if !ok {
			mf = &dto.MetricFamily{Name: strPtr(smp.Name)}
			if smp.Kind == snapshot.Counter {
				mf.Type = dto.MetricType_COUNTER.Enum()
			} else {
				mf.Type = dto.MetricType_GAUGE.Enum()
			}
			byName[smp.Name] = mf
			out = append(out, mf)
		}

		m := &dto.Metric{}
		for _, l := range smp.Labels {
			m.Label = append(m.Label, &dto.LabelPair{Name: strPtr(l.Name), Value: strPtr(l.Value)})
		}
		v := smp.Value
		if mf.GetType() == dto.MetricType_COUNTER {
			m.Counter = &dto.Counter{Value: &v}
		} else {
			m.Gauge = &dto.Gauge{Value: &v}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return out
}

// Encode writes snap, followed by any extra families, in text format.
func Encode(w io.Writer, snap *snapshot.Snapshot, extra ...*dto.MetricFamily) error {
	fams := append(Families(snap), extra...)
	for _, mf := range fams {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("exposition: encode %q: %w", mf.GetName(), err)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
