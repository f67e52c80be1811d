// ABOUTME: Connection profile for the relay-api client
// ABOUTME: Loads TOML from the XDG config path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Profile holds the connection settings for a relay server.
type Profile struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
	TLS    bool   `toml:"tls"`
}

const (
	defaultAddr = "localhost:10000"
	addrEnv     = "RELAY_API_ADDR"
	apiKeyEnv   = "RELAY_API_KEY"
)

// defaultProfilePath returns XDG_CONFIG_HOME/relay/api.toml or ~/.config/relay/api.toml.
func defaultProfilePath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "api.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "relay", "api.toml")
}

// loadProfile reads the profile at path. A missing file yields an empty
// profile; RELAY_API_ADDR and RELAY_API_KEY override the file.
func loadProfile(path string) (*Profile, error) {
	var p Profile

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading profile: %w", err)
	default:
		if _, err := toml.Decode(expandEnvVars(string(data)), &p); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", path, err)
		}
	}

	if addr := os.Getenv(addrEnv); addr != "" {
		p.Addr = addr
	}
	if key := os.Getenv(apiKeyEnv); key != "" {
		p.APIKey = key
	}
	if p.Addr == "" {
		p.Addr = defaultAddr
	}
	return &p, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}
