package status

import (
	"strconv"
	"strings"
	"time"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// Series produced by the status parsers.
const (
	ConnectionsActive   = "connections_active"
	ConnectionsReading  = "connections_reading"
	ConnectionsWriting  = "connections_writing"
	ConnectionsWaiting  = "connections_waiting"
	ConnectionsAccepted = "connections_accepted_total"
	ConnectionsHandled  = "connections_handled_total"
	HTTPRequestsTotal   = "http_requests_total"
	StatusInfo          = "status_info"

	// RequestsPerSecond is derived from HTTPRequestsTotal across snapshots.
	RequestsPerSecond = "requests_per_second"
)

const stubLines = 4

// ParseStub parses a stub_status page captured at now.
func ParseStub(text string, now time.Time) (*snapshot.Snapshot, error) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != stubLines {
		return nil, &ParseError{
			Source: SourceStub,
			Reason: "expected " + strconv.Itoa(stubLines) + " lines, got " + strconv.Itoa(len(lines)),
		}
	}

	b := snapshot.NewBuilder()

	// Active connections: N
	active, ok := strings.CutPrefix(lines[0], "Active connections:")
	if !ok {
		return nil, &ParseError{Source: SourceStub, Line: 1, Reason: "missing \"Active connections:\" prefix"}
	}
	fields := strings.Fields(active)
	if len(fields) != 1 {
		return nil, &ParseError{Source: SourceStub, Line: 1, Reason: "expected 1 value, got " + strconv.Itoa(len(fields))}
	}
	n, err := parseCount(fields[0])
	if err != nil {
		return nil, &ParseError{Source: SourceStub, Line: 1, Reason: "active connections", Err: err}
	}
	b.Record(ConnectionsActive, snapshot.Gauge, nil, n)

	// server accepts handled requests
	header := strings.Fields(lines[1])
	if len(header) != 4 || header[0] != "server" {
		return nil, &ParseError{Source: SourceStub, Line: 2, Reason: "unexpected summary header " + strconv.Quote(lines[1])}
	}

	// accepts handled requests
	totals := strings.Fields(lines[2])
	if len(totals) != 3 {
		return nil, &ParseError{Source: SourceStub, Line: 3, Reason: "expected 3 values, got " + strconv.Itoa(len(totals))}
	}
	counters := [3]string{ConnectionsAccepted, ConnectionsHandled, HTTPRequestsTotal}
	for i, tok := range totals {
		v, err := parseCount(tok)
		if err != nil {
			return nil, &ParseError{Source: SourceStub, Line: 3, Reason: counters[i], Err: err}
		}
		b.Record(counters[i], snapshot.Counter, nil, v)
	}

	// Reading: N Writing: N Waiting: N
	rw := strings.Fields(lines[3])
	if len(rw) != 6 {
		return nil, &ParseError{Source: SourceStub, Line: 4, Reason: "expected 6 tokens, got " + strconv.Itoa(len(rw))}
	}
	gauges := [3]struct{ key, series string }{
		{"reading:", ConnectionsReading},
		{"writing:", ConnectionsWriting},
		{"waiting:", ConnectionsWaiting},
	}
	for i, g := range gauges {
		if strings.ToLower(rw[i*2]) != g.key {
			return nil, &ParseError{Source: SourceStub, Line: 4, Reason: "expected " + strconv.Quote(g.key) + ", got " + strconv.Quote(rw[i*2])}
		}
		v, err := parseCount(rw[i*2+1])
		if err != nil {
			return nil, &ParseError{Source: SourceStub, Line: 4, Reason: g.series, Err: err}
		}
		b.Record(g.series, snapshot.Gauge, nil, v)
	}

	return b.Build(now), nil
}

func parseCount(tok string) (float64, error) {
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(v), nil
}
