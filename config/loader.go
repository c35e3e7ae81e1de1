package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// GADGETMESH_NATS_URLS or GADGETMESH_BLT_ADDR.
const EnvPrefix = "GADGETMESH"

// Loader reads, layers, and validates configuration.
type Loader struct {
	envPrefix string
}

// NewLoader returns a loader using the default environment prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix}
}

// Default returns the configuration a node gets with no file at all:
// in-memory storage and a BL/T listener on the standard port. Node identity
// still has to come from the file or the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.BLT.Addr = ":9000"
	cfg.Metrics.Enabled = true
	return cfg
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path skips the file and starts from
// defaults.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := l.env("NODE_NETWORK_ID"); val != "" {
		cfg.Node.NetworkID = val
	}
	if val := l.env("NODE_GROUP_ID"); val != "" {
		cfg.Node.GroupID = val
	}
	if val := l.env("NODE_ENVIRONMENT"); val != "" {
		cfg.Node.Environment = val
	}

	if val := l.env("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := l.env("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := l.env("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := l.env("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	if val := l.env("BLT_ADDR"); val != "" {
		cfg.BLT.Addr = val
	}
	if val := l.env("BLT_DEFAULT_MERGE"); val != "" {
		cfg.BLT.DefaultMerge = val
	}

	if val := l.env("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}

	if val := l.env("STORAGE_MODE"); val != "" {
		cfg.Storage.Mode = val
	}
	if val := l.env("STORAGE_BUCKET"); val != "" {
		cfg.Storage.Bucket = val
	}

	if val := l.env("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := l.env("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

func (l *Loader) env(suffix string) string {
	return os.Getenv(l.envPrefix + "_" + suffix)
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
