package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/azmonbridge/azmonbridge/pkg/logging"
)

// Default values for the exporter configuration.
const (
	DefaultStatusURL      = "http://127.0.0.1/nginx_status"
	DefaultScrapeInterval = 15 * time.Second
	DefaultPort           = 9113
	DefaultTimeout        = 10 * time.Second
)

// Config holds the exporter configuration parsed from the `exporter:` section
// of config.yaml.
type Config struct {
	Exporter ExporterConfig `yaml:"exporter"`
}

// ExporterConfig holds all exporter settings.
type ExporterConfig struct {
	// StatusURL is the nginx stub_status endpoint.
	StatusURL string `yaml:"status_url"`

	// JSONURL is the optional JSON status endpoint. Empty disables it.
	JSONURL string `yaml:"json_url"`

	// ScrapeInterval is how often the status endpoints are refreshed.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// Port is the HTTP listen port for /metrics and /health.
	Port int `yaml:"port"`

	// Timeout bounds each request against nginx.
	Timeout time.Duration `yaml:"timeout"`

	Log logging.Config `yaml:"log"`
}

// Load reads and parses the config file at path. An empty path yields the
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("exporter config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("exporter config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("exporter config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("exporter config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Exporter: ExporterConfig{
			StatusURL:      DefaultStatusURL,
			ScrapeInterval: DefaultScrapeInterval,
			Port:           DefaultPort,
			Timeout:        DefaultTimeout,
			Log:            logging.Config{Level: "info", Format: "json"},
		},
	}
}

// applyEnv overlays the environment variables the exporter has always
// honoured. SCRAPE_INTERVAL is whole seconds.
func applyEnv(cfg *Config) error {
	e := &cfg.Exporter
	if v := os.Getenv("NGINX_STATUS_URL"); v != "" {
		e.StatusURL = v
	}
	if v := os.Getenv("NGINX_JSON_URL"); v != "" {
		e.JSONURL = v
	}
	if v := os.Getenv("SCRAPE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCRAPE_INTERVAL %q: want whole seconds", v)
		}
		e.ScrapeInterval = time.Duration(n) * time.Second
	}
	if v := os.Getenv("EXPORTER_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EXPORTER_PORT %q: not a number", v)
		}
		e.Port = n
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	e := cfg.Exporter
	if err := checkURL("exporter.status_url", e.StatusURL); err != nil {
		return err
	}
	if e.JSONURL != "" {
		if err := checkURL("exporter.json_url", e.JSONURL); err != nil {
			return err
		}
	}
	if e.ScrapeInterval <= 0 {
		return fmt.Errorf("exporter.scrape_interval must be positive")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("exporter.port %d is out of range [1, 65535]", e.Port)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("exporter.timeout must be positive")
	}
	if _, err := logging.ParseLevel(e.Log.Level); err != nil {
		return fmt.Errorf("exporter.log.level: %w", err)
	}
	return nil
}

func checkURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return nil
}
