// Package config loads and watches the agent configuration (the `agent:`
// section of config.yaml).
//
// Top-level types:
//   - Config{Agent}: the tree parsed from YAML
//   - Source: type (exposition|stub_status), url, json_url, timeout, auth, tls
//   - AuthConfig: source auth mode (mtls|apikey|bearer|basic|none); Key(),
//     Token() and Password() resolve secrets from environment variables
//   - AzureConfig: static resource identity, region, metadata service settings
//   - CredentialsConfig: managed identity toggle and service principal fields
//   - DeliveryConfig, MonitorConfig, AlertsConfig
//
// Load(path) applies defaults (60s interval, exposition source on
// localhost:9113, region northeurope, 3 delivery attempts, unhealthy after 5
// failed cycles), unmarshals, overlays the AZURE_* environment variables and
// validates. Template values such as "your-client-id" count as unset.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory and calls
// onChange with the reloaded Config. The agent uses it to change log level
// without a restart.
package config
