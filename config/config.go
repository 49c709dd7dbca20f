package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration as read from YAML.
type Config struct {
	Desk   DeskConfig   `yaml:"desk"`
	Status StatusConfig `yaml:"status"`
	Tokens TokenConfig  `yaml:"tokens"`
	Log    LogConfig    `yaml:"log"`
}

// DeskConfig locates the desk and bounds its HTTP requests.
type DeskConfig struct {
	Host     string `yaml:"host"`
	Platform string `yaml:"platform"`
	// TLSVerify enables certificate verification. Desks ship with a
	// self-signed certificate, so it is off by default.
	TLSVerify          bool          `yaml:"tls_verify"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	LongRequestTimeout time.Duration `yaml:"long_request_timeout"`
}

// StatusConfig tunes websocket status channels.
type StatusConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	EventBuffer  int           `yaml:"event_buffer"`
}

// TokenConfig controls whether control tokens survive the process.
type TokenConfig struct {
	Persist bool   `yaml:"persist"`
	Dir     string `yaml:"dir"`
}

// LogConfig selects the log destination and level.
type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Disable bool   `yaml:"disable"`
}

var validLevels = map[string]bool{
	"ERROR":   true,
	"WARNING": true,
	"NOTICE":  true,
	"INFO":    true,
	"DEBUG":   true,
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Desk: DeskConfig{
			Platform:           "panda",
			RequestTimeout:     5 * time.Second,
			LongRequestTimeout: 50 * time.Second,
		},
		Status: StatusConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			EventBuffer:  64,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Log.Level = strings.ToUpper(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields that would otherwise fail much later, on the
// first request or dial.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Desk.Platform) {
	case "panda", "fer", "franka_emika_robot", "frankaemikarobot",
		"fr3", "frankaresearch3", "franka_research_3":
	default:
		return fmt.Errorf("config: unknown platform %q", c.Desk.Platform)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"desk.request_timeout", c.Desk.RequestTimeout},
		{"desk.long_request_timeout", c.Desk.LongRequestTimeout},
		{"status.ping_interval", c.Status.PingInterval},
		{"status.pong_timeout", c.Status.PongTimeout},
		{"status.write_timeout", c.Status.WriteTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %v", d.name, d.d)
		}
	}

	if c.Status.PongTimeout <= c.Status.PingInterval {
		return fmt.Errorf("config: status.pong_timeout (%v) must exceed status.ping_interval (%v)",
			c.Status.PongTimeout, c.Status.PingInterval)
	}
	if c.Status.EventBuffer < 0 {
		return fmt.Errorf("config: status.event_buffer must not be negative")
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("config: invalid log level %q", c.Log.Level)
	}
	return nil
}
