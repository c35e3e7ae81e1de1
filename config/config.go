// Package config loads and validates the mesh node configuration. A config
// file is YAML; every field can be overridden by a GADGETMESH_* environment
// variable so containerized deployments need no file edits.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360/gadgetmesh/blt"
	"github.com/c360/gadgetmesh/plumber"
)

// Storage backend names.
const (
	StorageModeMemory = "memory"
	StorageModeNATS   = "nats"
)

// Config is the complete node configuration.
type Config struct {
	Version string        `yaml:"version,omitempty"`
	Node    NodeConfig    `yaml:"node"`
	NATS    NATSConfig    `yaml:"nats,omitempty"`
	BLT     blt.Config    `yaml:"blt,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Plumber PlumberConfig `yaml:"plumber,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// NodeConfig names this node within the mesh. NetworkID and GroupID together
// form the storage address under which the node persists its cells.
type NodeConfig struct {
	NetworkID   string `yaml:"network_id"`
	GroupID     string `yaml:"group_id"`
	Environment string `yaml:"environment,omitempty"`
}

// NATSConfig defines the NATS connection settings.
type NATSConfig struct {
	URLs          []string      `yaml:"urls,omitempty"`
	MaxReconnects int           `yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `yaml:"reconnect_wait,omitempty"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	Token         string        `yaml:"token,omitempty"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Mode   string `yaml:"mode,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
}

// RuleConfig is the YAML form of a routing rule, installed at startup.
type RuleConfig struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source,omitempty"`
	Port        string `yaml:"port,omitempty"`
	Type        string `yaml:"type,omitempty"`
	Destination string `yaml:"to"`
	TargetPort  string `yaml:"target_port,omitempty"`
}

// Rule converts the YAML form into the plumber's rule type.
func (r RuleConfig) Rule() plumber.Rule {
	return plumber.Rule{
		Name: r.Name,
		Match: plumber.MatchSpec{
			Source: r.Source,
			Port:   r.Port,
			Type:   r.Type,
		},
		Destination: r.Destination,
		TargetPort:  r.TargetPort,
	}
}

// PlumberConfig configures the routing bus.
type PlumberConfig struct {
	HistoryCapacity int          `yaml:"history_capacity,omitempty"`
	Rules           []RuleConfig `yaml:"rules,omitempty"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// Validate normalizes the config and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Node.NetworkID == "" {
		return fmt.Errorf("node.network_id is required")
	}
	if c.Node.GroupID == "" {
		return fmt.Errorf("node.group_id is required")
	}
	for _, part := range []string{c.Node.NetworkID, c.Node.GroupID} {
		if !isValidSubjectPart(part) {
			return fmt.Errorf("node identifier %q must be alphanumeric with dashes or underscores", part)
		}
	}

	if err := c.BLT.Validate(); err != nil {
		return fmt.Errorf("blt: %w", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port == 0 {
			c.Metrics.Port = 9090
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	switch c.Storage.Mode {
	case "":
		c.Storage.Mode = StorageModeMemory
	case StorageModeMemory:
	case StorageModeNATS:
		if len(c.NATS.URLs) == 0 {
			return fmt.Errorf("storage mode %q needs nats.urls", StorageModeNATS)
		}
		if c.Storage.Bucket == "" {
			c.Storage.Bucket = "gadgetmesh"
		}
	default:
		return fmt.Errorf("unknown storage mode %q", c.Storage.Mode)
	}

	if c.Plumber.HistoryCapacity < 0 {
		return fmt.Errorf("plumber.history_capacity must be non-negative")
	}
	seen := make(map[string]bool, len(c.Plumber.Rules))
	for _, r := range c.Plumber.Rules {
		if r.Name == "" || r.Destination == "" {
			return fmt.Errorf("every plumber rule needs a name and a destination")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate plumber rule %q", r.Name)
		}
		seen[r.Name] = true
	}

	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
		c.Logging.Level = strings.ToLower(c.Logging.Level)
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "":
		c.Logging.Format = "text"
	case "text", "json":
		c.Logging.Format = strings.ToLower(c.Logging.Format)
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}

func isValidSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := *c
	out.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	out.Plumber.Rules = append([]RuleConfig(nil), c.Plumber.Rules...)
	return &out
}

// SafeConfig provides thread-safe access to a live configuration.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps cfg; a nil cfg becomes an empty config.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update swaps in a new configuration after validating it.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cfg = cfg
	return nil
}
