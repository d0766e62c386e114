package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
calendar_id: primary
public_base_url: https://relay.example.com
google:
  client_id: client-1
  client_secret: secret-1
fieldservice:
  base_url: https://api.example.com
  api_token: token-1
  default_customer: Service Desk
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.CalendarID != "primary" {
		t.Errorf("CalendarID = %q", cfg.CalendarID)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want default :8080", cfg.ListenAddr)
	}
	if cfg.PollInterval != 15*time.Minute {
		t.Errorf("PollInterval = %v, want default 15m", cfg.PollInterval)
	}
	if cfg.FieldService.CallSpacing != 2*time.Second {
		t.Errorf("CallSpacing = %v, want default 2s", cfg.FieldService.CallSpacing)
	}
	if cfg.Telemetry != nil {
		t.Error("Telemetry should be nil when the block is omitted")
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+`
listen_addr: ":9090"
poll_interval: 30m
telemetry:
  otlp_endpoint: localhost:4317
  insecure: true
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.PollInterval != 30*time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.OTLPEndpoint != "localhost:4317" || !cfg.Telemetry.Insecure {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"calender_id: oops\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		mangle  func(*Config)
		wantErr string
	}{
		{"missing calendar", func(c *Config) { c.CalendarID = "" }, "calendar_id"},
		{"missing base url", func(c *Config) { c.PublicBaseURL = "" }, "public_base_url"},
		{"non-http base url", func(c *Config) { c.PublicBaseURL = "ftp://x" }, "public_base_url"},
		{"missing client id", func(c *Config) { c.Google.ClientID = "" }, "client_id"},
		{"missing client secret", func(c *Config) { c.Google.ClientSecret = "" }, "client_secret"},
		{"missing backend url", func(c *Config) { c.FieldService.BaseURL = "" }, "base_url"},
		{"missing api token", func(c *Config) { c.FieldService.APIToken = "" }, "api_token"},
		{"missing default customer", func(c *Config) { c.FieldService.DefaultCustomer = "" }, "default_customer"},
		{"poll interval too short", func(c *Config) { c.PollInterval = 10 * time.Second }, "poll_interval"},
		{"poll interval too long", func(c *Config) { c.PollInterval = 48 * time.Hour }, "poll_interval"},
		{"negative call spacing", func(c *Config) { c.FieldService.CallSpacing = -time.Second }, "call_spacing"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry = &TelemetryConfig{} }, "otlp_endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mangle(cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func baseConfig() *Config {
	return &Config{
		CalendarID:    "primary",
		PublicBaseURL: "https://relay.example.com",
		Google: GoogleConfig{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
		},
		FieldService: FieldServiceConfig{
			BaseURL:         "https://api.example.com",
			APIToken:        "token-1",
			DefaultCustomer: "Service Desk",
		},
	}
}
