package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/azmonbridge/azmonbridge/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval        = 60 * time.Second
	DefaultSourceURL       = "http://localhost:9113/metrics"
	DefaultSourceTimeout   = 10 * time.Second
	DefaultRegion          = "northeurope"
	DefaultIMDSEndpoint    = "http://169.254.169.254"
	DefaultIMDSTimeout     = 2 * time.Second
	DefaultIMDSAttempts    = 3
	DefaultAuthorityHost   = "https://login.microsoftonline.com"
	DefaultRefreshMargin   = 5 * time.Minute
	DefaultClientSecretEnv = "AZURE_CLIENT_SECRET"
	DefaultNamespace       = "Custom/NGINX"
	DefaultSendTimeout     = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 1 * time.Second
	DefaultMaxBackoff      = 30 * time.Second
	DefaultMaxRetryAfter   = 60 * time.Second
	DefaultUnhealthyAfter  = 5
	DefaultReresolveAfter  = 3
)

// placeholders are template values shipped in sample env files. They count
// as unset.
var placeholders = map[string]bool{
	"your-client-id":       true,
	"your-client-secret":   true,
	"your-tenant-id":       true,
	"your-subscription-id": true,
	"your-resource-group":  true,
	"your-resource-name":   true,
}

// IsPlaceholder reports whether v is empty or a known template value.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || placeholders[strings.ToLower(v)]
}

// Config is the top-level configuration. The `exporter:` key in the same
// file is ignored by the agent.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// Interval is the time between collection cycles.
	Interval time.Duration `yaml:"interval"`

	// Source is the endpoint scraped each cycle.
	Source Source `yaml:"source"`

	// Azure identifies the target resource and the endpoints used to reach it.
	Azure AzureConfig `yaml:"azure"`

	// Credentials selects and configures the bearer token strategies.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Delivery controls payload shape and retry behaviour.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Monitor holds the health thresholds and the optional health listener.
	Monitor MonitorConfig `yaml:"monitor"`

	// Alerts holds webhook targets notified on health transitions.
	Alerts AlertsConfig `yaml:"alerts"`

	Log logging.Config `yaml:"log"`
}

// Source describes the scrape target.
type Source struct {
	// Type is exposition (a Prometheus text endpoint such as the exporter) or
	// stub_status (scrape nginx directly).
	Type string `yaml:"type"`

	// URL is the exposition endpoint, or the stub_status page when Type is
	// stub_status.
	URL string `yaml:"url"`

	// JSONURL is the optional JSON status document, used with stub_status only.
	JSONURL string `yaml:"json_url"`

	// Timeout bounds each scrape request.
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures how the agent authenticates to the source.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for the source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header name carrying the key when Mode == "apikey".
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return envOf(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return envOf(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return envOf(a.PasswordEnv) }

// TLSConfig holds TLS dial options for the source.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AzureConfig identifies the monitored resource. Static identity fields
// override what the metadata service reports and serve as the fallback when
// it is unreachable.
type AzureConfig struct {
	SubscriptionID string `yaml:"subscription_id"`
	ResourceGroup  string `yaml:"resource_group"`
	ResourceName   string `yaml:"resource_name"`
	// ScaleSetName, when set, targets the scale set rather than a single VM.
	ScaleSetName string `yaml:"scale_set_name"`
	InstanceID   string `yaml:"instance_id"`
	Region       string `yaml:"region"`

	// IMDSEndpoint is the instance metadata base URL.
	IMDSEndpoint string        `yaml:"imds_endpoint"`
	IMDSTimeout  time.Duration `yaml:"imds_timeout"`
	IMDSAttempts int           `yaml:"imds_attempts"`

	// IngestionBase overrides https://{region}.monitoring.azure.com.
	IngestionBase string `yaml:"ingestion_base"`
}

// HasStatic reports whether enough identity is configured to address a
// resource without the metadata service.
func (a AzureConfig) HasStatic() bool {
	return !IsPlaceholder(a.SubscriptionID) &&
		!IsPlaceholder(a.ResourceGroup) &&
		(!IsPlaceholder(a.ResourceName) || !IsPlaceholder(a.ScaleSetName))
}

// CredentialsConfig selects the token strategies.
type CredentialsConfig struct {
	// UseManagedIdentity enables the managed identity strategy. Default true.
	UseManagedIdentity bool `yaml:"use_managed_identity"`

	// ManagedIdentityClientID selects a user-assigned identity.
	ManagedIdentityClientID string `yaml:"managed_identity_client_id"`

	TenantID string `yaml:"tenant_id"`
	ClientID string `yaml:"client_id"`
	// ClientSecretEnv names the environment variable holding the secret.
	ClientSecretEnv string `yaml:"client_secret_env"`

	// AuthorityHost is the token issuer base URL.
	AuthorityHost string `yaml:"authority_host"`

	// RefreshMargin is how long before expiry a token is refreshed.
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

// ClientSecret returns the service-principal secret resolved from the environment.
func (c CredentialsConfig) ClientSecret() string { return envOf(c.ClientSecretEnv) }

// HasServicePrincipal reports whether tenant, client ID and secret are all
// present and none is a template value.
func (c CredentialsConfig) HasServicePrincipal() bool {
	return !IsPlaceholder(c.TenantID) && !IsPlaceholder(c.ClientID) && !IsPlaceholder(c.ClientSecret())
}

// DeliveryConfig controls the ingestion requests.
type DeliveryConfig struct {
	Namespace      string        `yaml:"namespace"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// MaxRetryAfter caps how long a server-supplied Retry-After is honoured.
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
	// Metrics, when non-empty, restricts delivery to these series names.
	Metrics []string `yaml:"metrics"`
}

// MonitorConfig holds orchestrator thresholds.
type MonitorConfig struct {
	// UnhealthyAfter is the number of consecutive failed cycles after which
	// the agent reports unhealthy.
	UnhealthyAfter int `yaml:"unhealthy_after"`

	// ReresolveAfter is the number of consecutive resolution or delivery
	// failures after which the cached resource identity is dropped.
	ReresolveAfter int `yaml:"reresolve_after"`

	// HealthListen, when set (e.g. ":9114"), serves /health and /metrics.
	HealthListen string `yaml:"health_listen"`
}

// AlertsConfig holds webhook targets.
type AlertsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return envOf(w.URLEnv) }

// Load reads and parses the YAML config file at path. An empty path yields
// the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval: DefaultInterval,
			Source: Source{
				Type:    "exposition",
				URL:     DefaultSourceURL,
				Timeout: DefaultSourceTimeout,
			},
			Azure: AzureConfig{
				Region:       DefaultRegion,
				IMDSEndpoint: DefaultIMDSEndpoint,
				IMDSTimeout:  DefaultIMDSTimeout,
				IMDSAttempts: DefaultIMDSAttempts,
			},
			Credentials: CredentialsConfig{
				UseManagedIdentity: true,
				ClientSecretEnv:    DefaultClientSecretEnv,
				AuthorityHost:      DefaultAuthorityHost,
				RefreshMargin:      DefaultRefreshMargin,
			},
			Delivery: DeliveryConfig{
				Namespace:      DefaultNamespace,
				Timeout:        DefaultSendTimeout,
				MaxAttempts:    DefaultMaxAttempts,
				InitialBackoff: DefaultInitialBackoff,
				MaxBackoff:     DefaultMaxBackoff,
				MaxRetryAfter:  DefaultMaxRetryAfter,
			},
			Monitor: MonitorConfig{
				UnhealthyAfter: DefaultUnhealthyAfter,
				ReresolveAfter: DefaultReresolveAfter,
			},
			Log: logging.Config{Level: "info", Format: "json"},
		},
	}
}

// applyEnv overlays the AZURE_* environment variables. Placeholder values
// are ignored.
func applyEnv(cfg *Config) error {
	a := &cfg.Agent
	set := func(dst *string, key string) {
		if v := os.Getenv(key); !IsPlaceholder(v) {
			*dst = v
		}
	}
	set(&a.Azure.SubscriptionID, "AZURE_SUBSCRIPTION_ID")
	set(&a.Azure.ResourceGroup, "AZURE_RESOURCE_GROUP")
	set(&a.Azure.ResourceName, "AZURE_RESOURCE_NAME")
	set(&a.Azure.Region, "AZURE_REGION")
	set(&a.Credentials.ClientID, "AZURE_CLIENT_ID")
	set(&a.Credentials.TenantID, "AZURE_TENANT_ID")

	if v := os.Getenv("AZURE_USE_MANAGED_IDENTITY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AZURE_USE_MANAGED_IDENTITY %q: want true|false", v)
		}
		a.Credentials.UseManagedIdentity = b
	}
	return nil
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}

	switch a.Source.Type {
	case "exposition", "stub_status":
	default:
		return fmt.Errorf("agent.source.type %q unknown: want exposition|stub_status", a.Source.Type)
	}
	if err := checkURL("agent.source.url", a.Source.URL); err != nil {
		return err
	}
	if a.Source.JSONURL != "" {
		if a.Source.Type != "stub_status" {
			return fmt.Errorf("agent.source.json_url is only used with type stub_status")
		}
		if err := checkURL("agent.source.json_url", a.Source.JSONURL); err != nil {
			return err
		}
	}
	if a.Source.Timeout <= 0 {
		return fmt.Errorf("agent.source.timeout must be positive")
	}
	switch a.Source.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("agent.source.auth.mode %q unknown: want mtls|apikey|bearer|basic|none", a.Source.Auth.Mode)
	}
	if a.Source.Auth.Mode == "apikey" && a.Source.Auth.Header == "" {
		return fmt.Errorf("agent.source.auth.header is required for apikey mode")
	}

	if err := checkURL("agent.azure.imds_endpoint", a.Azure.IMDSEndpoint); err != nil {
		return err
	}
	if a.Azure.IMDSTimeout <= 0 {
		return fmt.Errorf("agent.azure.imds_timeout must be positive")
	}
	if a.Azure.IMDSAttempts <= 0 {
		return fmt.Errorf("agent.azure.imds_attempts must be positive")
	}
	if a.Azure.IngestionBase != "" {
		if err := checkURL("agent.azure.ingestion_base", a.Azure.IngestionBase); err != nil {
			return err
		}
	}

	if !a.Credentials.UseManagedIdentity && !a.Credentials.HasServicePrincipal() {
		return fmt.Errorf("agent.credentials: managed identity disabled and no complete service principal configured")
	}
	if err := checkURL("agent.credentials.authority_host", a.Credentials.AuthorityHost); err != nil {
		return err
	}
	if a.Credentials.RefreshMargin < 0 {
		return fmt.Errorf("agent.credentials.refresh_margin must not be negative")
	}

	d := a.Delivery
	if d.Namespace == "" {
		return fmt.Errorf("agent.delivery.namespace is required")
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("agent.delivery.timeout must be positive")
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("agent.delivery.max_attempts must be positive")
	}
	if d.InitialBackoff <= 0 || d.MaxBackoff < d.InitialBackoff {
		return fmt.Errorf("agent.delivery: need 0 < initial_backoff <= max_backoff")
	}
	if d.MaxRetryAfter < 0 {
		return fmt.Errorf("agent.delivery.max_retry_after must not be negative")
	}

	if a.Monitor.UnhealthyAfter <= 0 {
		return fmt.Errorf("agent.monitor.unhealthy_after must be positive")
	}
	if a.Monitor.ReresolveAfter <= 0 {
		return fmt.Errorf("agent.monitor.reresolve_after must be positive")
	}

	for i, w := range a.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("agent.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("agent.alerts.webhooks[%d]: url_env is required", i)
		}
	}

	if _, err := logging.ParseLevel(a.Log.Level); err != nil {
		return fmt.Errorf("agent.log.level: %w", err)
	}
	return nil
}

// Missing lists identity and credential settings that are neither configured
// nor discoverable. It backs the -config-check mode and is informational:
// the metadata service may still fill the gaps at runtime.
func (c *Config) Missing() []string {
	var out []string
	a := c.Agent
	if IsPlaceholder(a.Azure.SubscriptionID) {
		out = append(out, "subscription_id (AZURE_SUBSCRIPTION_ID)")
	}
	if IsPlaceholder(a.Azure.ResourceGroup) {
		out = append(out, "resource_group (AZURE_RESOURCE_GROUP)")
	}
	if IsPlaceholder(a.Azure.ResourceName) && IsPlaceholder(a.Azure.ScaleSetName) {
		out = append(out, "resource_name (AZURE_RESOURCE_NAME)")
	}
	if !a.Credentials.UseManagedIdentity || a.Credentials.TenantID != "" || a.Credentials.ClientID != "" {
		if IsPlaceholder(a.Credentials.TenantID) {
			out = append(out, "tenant_id (AZURE_TENANT_ID)")
		}
		if IsPlaceholder(a.Credentials.ClientID) {
			out = append(out, "client_id (AZURE_CLIENT_ID)")
		}
		if IsPlaceholder(a.Credentials.ClientSecret()) {
			out = append(out, fmt.Sprintf("client secret (%s)", a.Credentials.ClientSecretEnv))
		}
	}
	return out
}

func envOf(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
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
