// Package config centralises runtime configuration snapshots for conduit.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment the pipeline operates in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// TelemetryConfig configures the OpenTelemetry-backed metrics handle.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// BufferConfig holds buffer sizing defaults loaded from YAML and env
// overrides. No buffer or topology code in this module reads it: topology
// edges without explicit options use the controller's own built-in default.
type BufferConfig struct {
	MaxEvents     int           `yaml:"max_events"`
	MaxBytes      int64         `yaml:"max_bytes"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ShutdownConfig bounds the topology controller's graceful shutdown.
type ShutdownConfig struct {
	PerComponentTimeout time.Duration `yaml:"per_component_timeout"`
}

// Settings is the complete, immutable configuration tree for a running
// instance. Once built by Load/FromEnv it is never mutated in place: a
// reload builds and installs a new Settings value.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Buffer      BufferConfig    `yaml:"buffer"`
	Shutdown    ShutdownConfig  `yaml:"shutdown"`
}

// Default returns the baseline configuration before env or file overrides.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Telemetry: TelemetryConfig{
			ServiceName: "conduit",
		},
		Buffer: BufferConfig{
			MaxEvents:     500,
			MaxBytes:      10 << 20,
			FlushInterval: time.Second,
		},
		Shutdown: ShutdownConfig{
			PerComponentTimeout: 30 * time.Second,
		},
	}
}

// FromEnv layers environment variable overrides on top of Default.
func FromEnv() Settings {
	cfg := Default()
	if v := strings.TrimSpace(os.Getenv("CONDUIT_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_BUFFER_MAX_EVENTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Buffer.MaxEvents = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_BUFFER_MAX_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Buffer.MaxBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_SHUTDOWN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Shutdown.PerComponentTimeout = d
		}
	}
	return cfg
}

// Load layers a YAML document's fields on top of FromEnv's result. An empty
// or whitespace-only path returns FromEnv() unchanged.
func Load(path string) (Settings, error) {
	cfg := FromEnv()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
