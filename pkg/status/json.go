package status

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// jsonPrefix is prepended to top-level numeric fields of the JSON document.
const jsonPrefix = "status_"

// ParseJSON parses the JSON status document captured at now.
//
// When "status" is "active", status_info{server_name,nginx_version} is set to
// 1. Every top-level numeric field becomes a gauge named status_<field>.
func ParseJSON(body []byte, now time.Time) (*snapshot.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseError{Source: SourceJSON, Reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, &ParseError{Source: SourceJSON, Reason: "expected a JSON object"}
	}

	b := snapshot.NewBuilder()

	if root.Get("status").String() == "active" {
		b.Record(StatusInfo, snapshot.Gauge, snapshot.Labels{
			{Name: "server_name", Value: stringOr(root.Get("server_name"), "unknown")},
			{Name: "nginx_version", Value: stringOr(root.Get("nginx_version"), "unknown")},
		}, 1)
	}

	root.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			b.Record(jsonPrefix+sanitizeName(key.String()), snapshot.Gauge, nil, value.Float())
		}
		return true
	})

	return b.Build(now), nil
}

func stringOr(r gjson.Result, def string) string {
	if !r.Exists() || r.String() == "" {
		return def
	}
	return r.String()
}

// sanitizeName maps an arbitrary JSON key onto the metric name charset.
func sanitizeName(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
