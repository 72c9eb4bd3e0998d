package status

import (
	"errors"
	"testing"
	"time"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const stubPage = "Active connections: 5\nserver accepts handled requests\n 10 10 20\nReading: 0 Writing: 1 Waiting: 4"

func TestParseStub_Valid(t *testing.T) {
	snap, err := ParseStub(stubPage, now)
	if err != nil {
		t.Fatalf("ParseStub() error: %v", err)
	}

	want := map[string]struct {
		value float64
		kind  snapshot.Kind
	}{
		ConnectionsActive:   {5, snapshot.Gauge},
		ConnectionsAccepted: {10, snapshot.Counter},
		ConnectionsHandled:  {10, snapshot.Counter},
		HTTPRequestsTotal:   {20, snapshot.Counter},
		ConnectionsReading:  {0, snapshot.Gauge},
		ConnectionsWriting:  {1, snapshot.Gauge},
		ConnectionsWaiting:  {4, snapshot.Gauge},
	}
	if snap.Len() != len(want) {
		t.Fatalf("series count = %d, want %d", snap.Len(), len(want))
	}
	for name, w := range want {
		smp, ok := snap.Lookup(name, nil)
		if !ok {
			t.Errorf("series %q missing", name)
			continue
		}
		if smp.Value != w.value {
			t.Errorf("%s = %v, want %v", name, smp.Value, w.value)
		}
		if smp.Kind != w.kind {
			t.Errorf("%s kind = %v, want %v", name, smp.Kind, w.kind)
		}
	}
	if !snap.CapturedAt().Equal(now) {
		t.Errorf("CapturedAt = %v, want %v", snap.CapturedAt(), now)
	}
}

func TestParseStub_ToleratesWhitespace(t *testing.T) {
	page := "\nActive connections: 1 \r\nserver accepts handled requests\r\n 16 16 31 \r\nReading: 0 Writing: 1 Waiting: 0 \n\n"
	snap, err := ParseStub(page, now)
	if err != nil {
		t.Fatalf("ParseStub() error: %v", err)
	}
	if v, _ := snap.Value(HTTPRequestsTotal); v != 31 {
		t.Errorf("http_requests_total = %v, want 31", v)
	}
}

func TestParseStub_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		wantLine int
	}{
		{"empty", "", 0},
		{"too few lines", "Active connections: 5\nserver accepts handled requests\n 10 10 20", 0},
		{"too many lines", stubPage + "\nextra", 0},
		{"missing prefix", "Connections: 5\nserver accepts handled requests\n 10 10 20\nReading: 0 Writing: 1 Waiting: 4", 1},
		{"non-numeric active", "Active connections: five\nserver accepts handled requests\n 10 10 20\nReading: 0 Writing: 1 Waiting: 4", 1},
		{"bad header", "Active connections: 5\nclient accepts\n 10 10 20\nReading: 0 Writing: 1 Waiting: 4", 2},
		{"two totals", "Active connections: 5\nserver accepts handled requests\n 10 10\nReading: 0 Writing: 1 Waiting: 4", 3},
		{"negative total", "Active connections: 5\nserver accepts handled requests\n 10 -1 20\nReading: 0 Writing: 1 Waiting: 4", 3},
		{"missing waiting", "Active connections: 5\nserver accepts handled requests\n 10 10 20\nReading: 0 Writing: 1", 4},
		{"wrong key", "Active connections: 5\nserver accepts handled requests\n 10 10 20\nReading: 0 Sending: 1 Waiting: 4", 4},
		{"non-numeric waiting", "Active connections: 5\nserver accepts handled requests\n 10 10 20\nReading: 0 Writing: 1 Waiting: x", 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap, err := ParseStub(tc.page, now)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if snap != nil {
				t.Error("no snapshot should be returned on error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if pe.Source != SourceStub {
				t.Errorf("Source = %q, want %q", pe.Source, SourceStub)
			}
			if pe.Line != tc.wantLine {
				t.Errorf("Line = %d, want %d (%v)", pe.Line, tc.wantLine, err)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	body := []byte(`{"server_name":"web-01","nginx_version":"1.25.3","status":"active","uptime":3600,"Load-Avg":0.5,"tags":["a"]}`)
	snap, err := ParseJSON(body, now)
	if err != nil {
		t.Fatalf("ParseJSON() error: %v", err)
	}

	info, ok := snap.Lookup(StatusInfo, snapshot.Labels{
		{Name: "server_name", Value: "web-01"},
		{Name: "nginx_version", Value: "1.25.3"},
	})
	if !ok || info.Value != 1 {
		t.Errorf("status_info = %+v, %v; want value 1", info, ok)
	}
	if v, ok := snap.Value("status_uptime"); !ok || v != 3600 {
		t.Errorf("status_uptime = %v, %v", v, ok)
	}
	if v, ok := snap.Value("status_load_avg"); !ok || v != 0.5 {
		t.Errorf("status_load_avg = %v, %v", v, ok)
	}
	if snap.Len() != 3 {
		t.Errorf("series count = %d, want 3", snap.Len())
	}
}

func TestParseJSON_InactiveHasNoInfo(t *testing.T) {
	snap, err := ParseJSON([]byte(`{"status":"starting"}`), now)
	if err != nil {
		t.Fatalf("ParseJSON() error: %v", err)
	}
	if _, ok := snap.Value(StatusInfo); ok {
		t.Error("status_info should only be set for an active server")
	}
}

func TestParseJSON_DefaultsUnknownLabels(t *testing.T) {
	snap, err := ParseJSON([]byte(`{"status":"active"}`), now)
	if err != nil {
		t.Fatalf("ParseJSON() error: %v", err)
	}
	_, ok := snap.Lookup(StatusInfo, snapshot.Labels{
		{Name: "server_name", Value: "unknown"},
		{Name: "nginx_version", Value: "unknown"},
	})
	if !ok {
		t.Error("missing labels should default to \"unknown\"")
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	for _, body := range []string{`{not json`, `[1,2,3]`, `"text"`} {
		_, err := ParseJSON([]byte(body), now)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseJSON(%q) error = %v, want *ParseError", body, err)
		}
	}
}
