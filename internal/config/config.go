// Package config loads gateway settings from defaults, an optional YAML
// file, and environment overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the gateway process.
type Config struct {
	// BindAddr is the HTTP listen address of the REST/WebSocket server.
	BindAddr string `yaml:"bind_addr" default:":8080"`

	// MetricsNamespace prefixes every Prometheus metric name.
	MetricsNamespace string `yaml:"metrics_namespace" default:"bplink"`

	// DeviceModel selects the protocol driver for sessions started over
	// HTTP. CLI commands can override it per invocation.
	DeviceModel string `yaml:"device_model" default:"HEM-7142T1"`

	// ScanTimeout bounds the discovery phase of each session.
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`

	// ShutdownTimeout bounds graceful HTTP server shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`

	// AllowAnyOrigin disables the WebSocket same-origin check. Meant for
	// local dashboards only.
	AllowAnyOrigin bool `yaml:"allow_any_origin" default:"false"`

	// CSVPath, when set, appends every reconciled batch to a CSV file.
	CSVPath string `yaml:"csv_path"`

	// JSONPath, when set, snapshots every reconciled batch to a JSON file.
	JSONPath string `yaml:"json_path"`
}

// Load builds a Config. path may be empty, in which case only defaults and
// the environment apply. A missing file at a non-empty path is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays BPLINK_* environment variables.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("BPLINK_BIND_ADDR"); ok {
		c.BindAddr = v
	}
	if v, ok := os.LookupEnv("BPLINK_METRICS_NAMESPACE"); ok {
		c.MetricsNamespace = v
	}
	if v, ok := os.LookupEnv("BPLINK_DEVICE_MODEL"); ok {
		c.DeviceModel = v
	}
	if v, ok := os.LookupEnv("BPLINK_SCAN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BPLINK_SCAN_TIMEOUT: %w", err)
		}
		c.ScanTimeout = d
	}
	if v, ok := os.LookupEnv("BPLINK_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BPLINK_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if v, ok := os.LookupEnv("BPLINK_ALLOW_ANY_ORIGIN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BPLINK_ALLOW_ANY_ORIGIN: %w", err)
		}
		c.AllowAnyOrigin = b
	}
	if v, ok := os.LookupEnv("BPLINK_CSV_PATH"); ok {
		c.CSVPath = v
	}
	if v, ok := os.LookupEnv("BPLINK_JSON_PATH"); ok {
		c.JSONPath = v
	}
	return nil
}
