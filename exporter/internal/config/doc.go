// Package config loads the exporter configuration from the `exporter:` section
// of config.yaml (the `agent:` key is ignored by the exporter binary).
//
// Config fields:
//   - StatusURL      stub_status page to scrape (default http://127.0.0.1/nginx_status)
//   - JSONURL        optional JSON status document; empty disables it
//   - ScrapeInterval how often the status endpoints are refreshed (default 15s)
//   - Port           listen port for /metrics and /health (default 9113)
//   - Timeout        per-request timeout against nginx (default 10s)
//   - Log            level, format and optional rotated file
//
// Load(path) applies defaults, unmarshals, applies the NGINX_STATUS_URL,
// NGINX_JSON_URL, SCRAPE_INTERVAL and EXPORTER_PORT environment overrides and
// then validates. An empty path skips the file and uses defaults plus env.
package config
