package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desk.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
desk:
  host: "10.103.1.111"
  platform: fr3
  request_timeout: 3s
status:
  ping_interval: 5s
  pong_timeout: 15s
tokens:
  persist: true
  dir: /tmp/tokens
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Desk.Host != "10.103.1.111" {
		t.Errorf("Desk.Host = %q, want %q", cfg.Desk.Host, "10.103.1.111")
	}
	if cfg.Desk.Platform != "fr3" {
		t.Errorf("Desk.Platform = %q, want fr3", cfg.Desk.Platform)
	}
	if cfg.Desk.RequestTimeout != 3*time.Second {
		t.Errorf("Desk.RequestTimeout = %v, want 3s", cfg.Desk.RequestTimeout)
	}
	if cfg.Status.PingInterval != 5*time.Second {
		t.Errorf("Status.PingInterval = %v, want 5s", cfg.Status.PingInterval)
	}
	if !cfg.Tokens.Persist || cfg.Tokens.Dir != "/tmp/tokens" {
		t.Errorf("Tokens = %+v, want persist in /tmp/tokens", cfg.Tokens)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("Log.Level = %q, want DEBUG", cfg.Log.Level)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Desk.LongRequestTimeout != 50*time.Second {
		t.Errorf("Desk.LongRequestTimeout = %v, want 50s", cfg.Desk.LongRequestTimeout)
	}
	if cfg.Status.WriteTimeout != 10*time.Second {
		t.Errorf("Status.WriteTimeout = %v, want 10s", cfg.Status.WriteTimeout)
	}
	if cfg.Status.EventBuffer != 64 {
		t.Errorf("Status.EventBuffer = %d, want 64", cfg.Status.EventBuffer)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "desk: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"UnknownPlatform", func(c *Config) { c.Desk.Platform = "ur5" }},
		{"ZeroRequestTimeout", func(c *Config) { c.Desk.RequestTimeout = 0 }},
		{"NegativePing", func(c *Config) { c.Status.PingInterval = -time.Second }},
		{"PongNotAfterPing", func(c *Config) { c.Status.PongTimeout = c.Status.PingInterval }},
		{"NegativeBuffer", func(c *Config) { c.Status.EventBuffer = -1 }},
		{"BadLogLevel", func(c *Config) { c.Log.Level = "TRACE" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidatePlatformAliases(t *testing.T) {
	for _, p := range []string{"panda", "FER", "Franka_Emika_Robot", "fr3", "FrankaResearch3", "franka_research_3"} {
		cfg := Default()
		cfg.Desk.Platform = p
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with platform %q = %v", p, err)
		}
	}
}
