// Package config loads and validates the FieldRelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// CalendarID is the source Google calendar, e.g. "primary" or a
	// calendar address.
	CalendarID string `yaml:"calendar_id"`

	// PublicBaseURL is the externally reachable base URL of this process,
	// used to construct the webhook callback and OAuth redirect addresses.
	PublicBaseURL string `yaml:"public_base_url"`

	// ListenAddr is the HTTP listen address. Defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// StateDB overrides the state database path. Defaults to
	// ~/.local/share/fieldrelay/state.db.
	StateDB string `yaml:"state_db,omitempty"`

	// PollInterval controls the fallback delta poll in serve mode,
	// covering notifications that never arrive. Minimum 1m, maximum 24h.
	// Defaults to 15m.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Google holds the OAuth client used for the calendar API.
	Google GoogleConfig `yaml:"google"`

	// FieldService configures the downstream job backend.
	FieldService FieldServiceConfig `yaml:"fieldservice"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// GoogleConfig holds the OAuth client credentials.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// FieldServiceConfig holds the downstream backend settings.
type FieldServiceConfig struct {
	// BaseURL is the backend API root (e.g. "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	// APIToken authenticates every backend call.
	APIToken string `yaml:"api_token"`

	// DefaultCustomer is the customer name jobs are booked under.
	DefaultCustomer string `yaml:"default_customer"`

	// CallSpacing is the minimum spacing between backend calls.
	// Defaults to 2s.
	CallSpacing time.Duration `yaml:"call_spacing"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "fieldrelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/fieldrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fieldrelay", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.CalendarID == "" {
		return fmt.Errorf("calendar_id is required")
	}

	if c.PublicBaseURL == "" {
		return fmt.Errorf("public_base_url is required")
	}
	if err := checkHTTPURL("public_base_url", c.PublicBaseURL); err != nil {
		return err
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Minute
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.Google.ClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("google.client_secret is required")
	}

	if c.FieldService.BaseURL == "" {
		return fmt.Errorf("fieldservice.base_url is required")
	}
	if err := checkHTTPURL("fieldservice.base_url", c.FieldService.BaseURL); err != nil {
		return err
	}
	if c.FieldService.APIToken == "" {
		return fmt.Errorf("fieldservice.api_token is required")
	}
	if c.FieldService.DefaultCustomer == "" {
		return fmt.Errorf("fieldservice.default_customer is required")
	}
	if c.FieldService.CallSpacing == 0 {
		c.FieldService.CallSpacing = 2 * time.Second
	}
	if c.FieldService.CallSpacing < 0 {
		return fmt.Errorf("fieldservice.call_spacing must not be negative")
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func checkHTTPURL(field, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s %q must be a valid http or https URL", field, raw)
	}
	return nil
}
