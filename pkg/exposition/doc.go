// Package exposition converts snapshot.Snapshots to and from the Prometheus
// text exposition format.
//
// Encoding goes through client_model MetricFamily values and
// expfmt.MetricFamilyToText, so counters and gauges differ only in their
// "# TYPE" line. Decoding first tries a whole-document expfmt parse and, if
// that fails, re-parses the payload line by line so a single malformed sample
// costs that sample only. Skipped lines are counted and logged.
package exposition
