package shipper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// vmNameDimension carries the instance identity for scale-set members.
const vmNameDimension = "VMName"

// point is one custom metric document as the ingestion API expects it.
type point struct {
	Time string    `json:"time"`
	Data pointData `json:"data"`
}

type pointData struct {
	BaseData baseData `json:"baseData"`
}

type baseData struct {
	Metric    string   `json:"metric"`
	Namespace string   `json:"namespace"`
	DimNames  []string `json:"dimNames"`
	Series    []series `json:"series"`
}

type series struct {
	DimValues []string `json:"dimValues"`
	Min       float64  `json:"min"`
	Max       float64  `json:"max"`
	Sum       float64  `json:"sum"`
	Count     int      `json:"count"`
}

// toPoint maps one sample. Labels become dimensions in label order; for
// scale-set members VMName is appended.
func toPoint(smp snapshot.Sample, target imds.ResourceContext, namespace string, at time.Time) point {
	names := make([]string, 0, len(smp.Labels)+1)
	values := make([]string, 0, len(smp.Labels)+1)
	for _, l := range smp.Labels {
		names = append(names, l.Name)
		values = append(values, l.Value)
	}
	if vm := target.VMName(); vm != "" {
		names = append(names, vmNameDimension)
		values = append(values, vm)
	}

	ts := smp.ObservedAt
	if ts.IsZero() {
		ts = at
	}
	return point{
		Time: ts.UTC().Format(time.RFC3339),
		Data: pointData{BaseData: baseData{
			Metric:    smp.Name,
			Namespace: namespace,
			DimNames:  names,
			Series: []series{{
				DimValues: values,
				Min:       smp.Value,
				Max:       smp.Value,
				Sum:       smp.Value,
				Count:     1,
			}},
		}},
	}
}

// encodeBatch renders the batch as newline-delimited JSON, one document per
// sample. Samples whose value JSON cannot carry (NaN, ±Inf) are dropped and
// counted.
func encodeBatch(b Batch, namespace string) ([]byte, int, error) {
	var (
		buf     bytes.Buffer
		dropped int
	)
	enc := json.NewEncoder(&buf)
	for _, smp := range b.Samples {
		if math.IsNaN(smp.Value) || math.IsInf(smp.Value, 0) {
			dropped++
			continue
		}
		if err := enc.Encode(toPoint(smp, b.Target, namespace, b.CreatedAt)); err != nil {
			return nil, dropped, fmt.Errorf("shipper: encode %q: %w", smp.Name, err)
		}
	}
	return buf.Bytes(), dropped, nil
}
