// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides grpc_api.key when set.
const APIKeyEnv = "RELAY_API_KEY"

// Default values applied when the corresponding field is left empty.
const (
	DefaultDedupeTTL     = 5 * time.Minute
	DefaultDedupeMaxSize = 100_000
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	GRPCAPI    GRPCAPIConfig     `yaml:"grpc_api"`
	HTTPAPI    HTTPAPIConfig     `yaml:"http_api"`
	Tailscale  TailscaleConfig   `yaml:"tailscale"`
	Database   DatabaseConfig    `yaml:"database"`
	History    HistoryConfig     `yaml:"history"`
	Namespaces []NamespaceConfig `yaml:"namespaces"`
	Dedupe     DedupeConfig      `yaml:"dedupe"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// GRPCAPIConfig controls the gRPC server API.
// An empty Key disables authorization for the server API.
type GRPCAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
}

// HTTPAPIConfig controls the HTTP flavour of the server API.
// It shares the key configured for the gRPC API.
type HTTPAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	// HTTPS serves the HTTP listener on :443 with Tailscale-provisioned certs.
	HTTPS bool `yaml:"https"`
	// Funnel exposes the HTTP listener publicly through Tailscale Funnel.
	Funnel bool `yaml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig holds history settings for the default namespace.
type HistoryConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// NamespaceConfig describes a channel namespace ("name:" channel prefix).
type NamespaceConfig struct {
	Name        string        `yaml:"name"`
	HistorySize int           `yaml:"history_size"`
	HistoryTTL  time.Duration `yaml:"-"`
	Presence    bool          `yaml:"presence"`

	HistoryTTLRaw string `yaml:"history_ttl"`
}

// DedupeConfig bounds the idempotent publish cache.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	MaxSize int           `yaml:"max_size"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var namespaceNamePattern = regexp.MustCompile(`^[-a-zA-Z0-9_.]{2,}$`)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.GRPCAPI.Key = key
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.GRPCAPI.Enabled && c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required when grpc_api is enabled (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if strings.ContainsAny(c.GRPCAPI.Key, " \t\r\n") {
		return fmt.Errorf("grpc_api.key must not contain whitespace")
	}

	if c.History.Size < 0 {
		return fmt.Errorf("history.size must not be negative")
	}

	seen := make(map[string]bool, len(c.Namespaces))
	for i, ns := range c.Namespaces {
		if !namespaceNamePattern.MatchString(ns.Name) {
			return fmt.Errorf("namespaces[%d].name %q is invalid", i, ns.Name)
		}
		if seen[ns.Name] {
			return fmt.Errorf("namespaces[%d].name %q is duplicated", i, ns.Name)
		}
		seen[ns.Name] = true
		if ns.HistorySize < 0 {
			return fmt.Errorf("namespaces[%d].history_size must not be negative", i)
		}
	}

	return nil
}

// APIKey returns the configured server API key, or "" when authorization is disabled.
func (c *Config) APIKey() string {
	return c.GRPCAPI.Key
}

// Namespace looks up a namespace by name.
func (c *Config) Namespace(name string) (NamespaceConfig, bool) {
	for _, ns := range c.Namespaces {
		if ns.Name == name {
			return ns, true
		}
	}
	return NamespaceConfig{}, false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.History.TTLRaw != "" {
		cfg.History.TTL, err = time.ParseDuration(cfg.History.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing history.ttl %q: %w", cfg.History.TTLRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	for i := range cfg.Namespaces {
		ns := &cfg.Namespaces[i]
		if ns.HistoryTTLRaw == "" {
			continue
		}
		ns.HistoryTTL, err = time.ParseDuration(ns.HistoryTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing namespaces[%d].history_ttl %q: %w", i, ns.HistoryTTLRaw, err)
		}
	}

	return nil
}
