// Package config loads touchpadd's YAML configuration file, the same
// way the teacher loads its firewall config: a plain struct with
// yaml tags, sane defaults applied after unmarshal, and a small set of
// validation checks before the value is handed to the rest of the
// pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"grimm.is/touchpad/internal/brand"
)

// Config is the full set of knobs the pipeline orchestrator needs: the
// spec's own discover/login/backend ports and log level, plus the
// admission seed and the emitter tuning defaults a complete deployment
// needs that spec.md's distillation left implicit.
type Config struct {
	ComputerName string `yaml:"computer_name"`
	IP           string `yaml:"ip"`

	DiscoverPort uint16 `yaml:"discover_port"`
	LoginPort    uint16 `yaml:"login_port"`
	BackendPort  uint16 `yaml:"backend_port"`

	Seed string `yaml:"seed"`

	LogLevel string `yaml:"log_level"`

	CertPEM string `yaml:"cert_pem"`
	KeyPEM  string `yaml:"key_pem"`
	CertDir string `yaml:"cert_dir"`

	Sensitivity   float64 `yaml:"sensitivity"`
	InvertX       bool    `yaml:"invert_x"`
	InvertY       bool    `yaml:"invert_y"`
	LatencyWindow int     `yaml:"latency_window"`

	EventQueueSize int `yaml:"event_queue_size"`
}

// Defaults returns the configuration touchpadd runs with when no file
// (or an incomplete one) is supplied. Port numbers follow spec §6.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "touchpad-host"
	}
	return Config{
		ComputerName:   hostname,
		DiscoverPort:   8521,
		LoginPort:      8522,
		BackendPort:    8523,
		LogLevel:       "info",
		CertDir:        brand.GetDataDir(),
		Sensitivity:    1.0,
		LatencyWindow:  100,
		EventQueueSize: 256,
	}
}

// Load reads and parses the YAML file at path, layering it over
// Defaults(). A missing seed is an error: the admission handshake has
// no meaning without a shared secret.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the pipeline orchestrator relies on
// before it starts listening on any port.
func (c Config) Validate() error {
	if c.Seed == "" {
		return fmt.Errorf("config: seed must not be empty")
	}
	if c.DiscoverPort == 0 || c.LoginPort == 0 || c.BackendPort == 0 {
		return fmt.Errorf("config: discover_port, login_port, and backend_port must all be non-zero")
	}
	if c.DiscoverPort == c.LoginPort || c.DiscoverPort == c.BackendPort || c.LoginPort == c.BackendPort {
		return fmt.Errorf("config: discover_port, login_port, and backend_port must be distinct")
	}
	if c.Sensitivity <= 0 {
		return fmt.Errorf("config: sensitivity must be positive")
	}
	if c.LatencyWindow <= 0 {
		return fmt.Errorf("config: latency_window must be positive")
	}
	return nil
}
