package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Only the agent section present; exporter falls back entirely to defaults.
	p := writeConfig(t, `agent:
  source:
    url: "http://localhost:9113/metrics"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.Exporter
	if e.StatusURL != DefaultStatusURL {
		t.Errorf("status_url: got %q, want %q", e.StatusURL, DefaultStatusURL)
	}
	if e.ScrapeInterval != DefaultScrapeInterval {
		t.Errorf("scrape_interval: got %v, want %v", e.ScrapeInterval, DefaultScrapeInterval)
	}
	if e.Port != DefaultPort {
		t.Errorf("port: got %d, want %d", e.Port, DefaultPort)
	}
	if e.JSONURL != "" {
		t.Errorf("json_url: got %q, want empty", e.JSONURL)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Exporter.Port != DefaultPort {
		t.Errorf("port: got %d, want %d", cfg.Exporter.Port, DefaultPort)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `exporter:
  status_url: "http://10.0.0.5:8080/status"
  json_url: "http://10.0.0.5:8080/status.json"
  scrape_interval: 30s
  port: 9200
  timeout: 3s
  log:
    level: debug
    format: text
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.Exporter
	if e.StatusURL != "http://10.0.0.5:8080/status" {
		t.Errorf("status_url: got %q", e.StatusURL)
	}
	if e.JSONURL != "http://10.0.0.5:8080/status.json" {
		t.Errorf("json_url: got %q", e.JSONURL)
	}
	if e.ScrapeInterval != 30*time.Second {
		t.Errorf("scrape_interval: got %v, want 30s", e.ScrapeInterval)
	}
	if e.Port != 9200 {
		t.Errorf("port: got %d, want 9200", e.Port)
	}
	if e.Log.Level != "debug" || e.Log.Format != "text" {
		t.Errorf("log: got %+v", e.Log)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NGINX_STATUS_URL", "http://nginx:81/stub")
	t.Setenv("NGINX_JSON_URL", "http://nginx:81/json")
	t.Setenv("SCRAPE_INTERVAL", "5")
	t.Setenv("EXPORTER_PORT", "9999")

	p := writeConfig(t, `exporter:
  status_url: "http://ignored/status"
  port: 9200
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.Exporter
	if e.StatusURL != "http://nginx:81/stub" {
		t.Errorf("status_url: got %q", e.StatusURL)
	}
	if e.JSONURL != "http://nginx:81/json" {
		t.Errorf("json_url: got %q", e.JSONURL)
	}
	if e.ScrapeInterval != 5*time.Second {
		t.Errorf("scrape_interval: got %v, want 5s", e.ScrapeInterval)
	}
	if e.Port != 9999 {
		t.Errorf("port: got %d, want 9999", e.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"relative status url", "exporter:\n  status_url: \"/nginx_status\"\n", nil},
		{"bad json url", "exporter:\n  json_url: \"ftp://x/y\"\n", nil},
		{"zero interval", "exporter:\n  scrape_interval: 0s\n", nil},
		{"port out of range", "exporter:\n  port: 70000\n", nil},
		{"bad log level", "exporter:\n  log:\n    level: loud\n", nil},
		{"bad yaml", "exporter: [\n", nil},
		{"non-numeric interval env", "", map[string]string{"SCRAPE_INTERVAL": "15s"}},
		{"non-numeric port env", "", map[string]string{"EXPORTER_PORT": "http"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
