package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/azmonbridge/azmonbridge/agent/internal/config"
)

// exporterMetrics is a realistic /metrics page from the exporter.
const exporterMetrics = `# TYPE connections_active gauge
connections_active 3
# TYPE connections_reading gauge
connections_reading 0
# TYPE connections_writing gauge
connections_writing 1
# TYPE connections_waiting gauge
connections_waiting 2
# TYPE connections_accepted_total counter
connections_accepted_total 16
# TYPE connections_handled_total counter
connections_handled_total 16
# TYPE http_requests_total counter
http_requests_total 31
# TYPE nginx_exporter_scrapes_total counter
nginx_exporter_scrapes_total{result="success"} 4
`

const stubStatus = `Active connections: 3
server accepts handled requests
 16 16 31
Reading: 0 Writing: 1 Waiting: 2
`

func newServer(t *testing.T, body string, code int, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExpositionScraper_Scrape(t *testing.T) {
	var accept string
	srv := newServer(t, exporterMetrics, http.StatusOK, func(r *http.Request) {
		accept = r.Header.Get("Accept")
	})

	s, err := New(config.Source{Type: "exposition", URL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if !strings.HasPrefix(accept, "text/plain") {
		t.Errorf("Accept header: got %q, want text/plain...", accept)
	}
	if v, _ := res.Snapshot.Value("http_requests_total"); v != 31 {
		t.Errorf("http_requests_total: got %v, want 31", v)
	}
	if v, _ := res.Snapshot.Value("connections_active"); v != 3 {
		t.Errorf("connections_active: got %v, want 3", v)
	}
	if res.Snapshot.Len() != 8 {
		t.Errorf("series: got %d, want 8", res.Snapshot.Len())
	}
}

func TestExpositionScraper_SkipsMalformedLines(t *testing.T) {
	body := exporterMetrics + "garbage line here\n"
	srv := newServer(t, body, http.StatusOK, nil)

	s, _ := New(config.Source{Type: "exposition", URL: srv.URL})
	res, _ := s.Scrape(context.Background())
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped: got %d, want 1", res.Skipped)
	}
	if v, _ := res.Snapshot.Value("http_requests_total"); v != 31 {
		t.Errorf("http_requests_total: got %v, want 31", v)
	}
}

func TestExpositionScraper_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"server error", "boom", http.StatusInternalServerError},
		{"empty page", "", http.StatusOK},
		{"all garbage", "not a metric at all\nneither is this\n", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, tc.body, tc.code, nil)
			s, _ := New(config.Source{Type: "exposition", URL: srv.URL})
			res, err := s.Scrape(context.Background())
			if err != nil {
				t.Fatalf("Scrape() error = %v, want nil with res.Err set", err)
			}
			if res.Err == nil {
				t.Error("res.Err = nil, want failure")
			}
		})
	}
}

func TestExpositionScraper_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, _ := New(config.Source{Type: "exposition", URL: url})
	res, _ := s.Scrape(context.Background())
	if res.Err == nil {
		t.Error("expected res.Err for closed server")
	}
}

func TestStubScraper_Scrape(t *testing.T) {
	srv := newServer(t, stubStatus, http.StatusOK, nil)

	s, err := New(config.Source{Type: "stub_status", URL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, _ := s.Scrape(context.Background())
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.SourceType != "stub_status" {
		t.Errorf("SourceType: got %q", res.SourceType)
	}
	if v, _ := res.Snapshot.Value("http_requests_total"); v != 31 {
		t.Errorf("http_requests_total: got %v, want 31", v)
	}
	if v, _ := res.Snapshot.Value("connections_waiting"); v != 2 {
		t.Errorf("connections_waiting: got %v, want 2", v)
	}
}

func TestStubScraper_StubFailureCarriesCounters(t *testing.T) {
	var page atomic.Value
	page.Store(stubStatus)
	mux := http.NewServeMux()
	mux.HandleFunc("/nginx_status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page.Load().(string)))
	})
	mux.HandleFunc("/status.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"active","server_name":"web","nginx_version":"1.25"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := New(config.Source{Type: "stub_status", URL: srv.URL + "/nginx_status", JSONURL: srv.URL + "/status.json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, _ := s.Scrape(context.Background())
	if res.Err != nil || res.Carried {
		t.Fatalf("first scrape: err=%v carried=%v", res.Err, res.Carried)
	}

	page.Store("Active connections: 3\nserver accepts handled requests\n 1 2\nReading: 0 Writing: 1 Waiting: 2\n")
	res, _ = s.Scrape(context.Background())
	if res.Err != nil {
		t.Fatalf("second scrape: res.Err = %v", res.Err)
	}
	if !res.Carried {
		t.Error("Carried = false after stub_status failure")
	}
	if v, ok := res.Snapshot.Value("http_requests_total"); !ok || v != 31 {
		t.Errorf("http_requests_total: got %v (present=%v), want carried 31", v, ok)
	}
}

func TestAuthRoundTripper(t *testing.T) {
	t.Setenv("SRC_KEY", "k-123")
	t.Setenv("SRC_TOKEN", "tok")
	t.Setenv("SRC_PW", "pw")

	tests := []struct {
		name  string
		auth  config.AuthConfig
		check func(t *testing.T, r *http.Request)
	}{
		{"apikey", config.AuthConfig{Mode: "apikey", Header: "X-Api-Key", KeyEnv: "SRC_KEY"}, func(t *testing.T, r *http.Request) {
			if got := r.Header.Get("X-Api-Key"); got != "k-123" {
				t.Errorf("X-Api-Key: got %q", got)
			}
		}},
		{"bearer", config.AuthConfig{Mode: "bearer", TokenEnv: "SRC_TOKEN"}, func(t *testing.T, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("Authorization: got %q", got)
			}
		}},
		{"basic", config.AuthConfig{Mode: "basic", Username: "u", PasswordEnv: "SRC_PW"}, func(t *testing.T, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != "u" || p != "pw" {
				t.Errorf("BasicAuth: got %q %q %v", u, p, ok)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen *http.Request
			srv := newServer(t, exporterMetrics, http.StatusOK, func(r *http.Request) { seen = r })

			s, err := New(config.Source{Type: "exposition", URL: srv.URL, Auth: tc.auth})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if res, _ := s.Scrape(context.Background()); res.Err != nil {
				t.Fatalf("res.Err = %v", res.Err)
			}
			tc.check(t, seen)
		})
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	if _, err := New(config.Source{Type: "otelcol", URL: "http://x"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestNew_MissingClientCert(t *testing.T) {
	src := config.Source{
		Type: "exposition",
		URL:  "https://x",
		Auth: config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"},
	}
	if _, err := New(src); err == nil {
		t.Error("expected error for missing client cert")
	}
}
