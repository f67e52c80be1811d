// ABOUTME: Tests for relay-api profile loading
// ABOUTME: Covers missing files, TOML parsing, env expansion, and env overrides

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadProfile_MissingFile(t *testing.T) {
	t.Setenv(addrEnv, "")
	t.Setenv(apiKeyEnv, "")

	p, err := loadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, p.Addr)
	assert.Empty(t, p.APIKey)
	assert.False(t, p.TLS)
}

func TestLoadProfile_FromFile(t *testing.T) {
	t.Setenv(addrEnv, "")
	t.Setenv(apiKeyEnv, "")
	t.Setenv("RELAY_TEST_KEY", "s3cret")

	path := writeProfile(t, `
addr = "relay.example.com:443"
api_key = "${RELAY_TEST_KEY}"
tls = true
`)

	p, err := loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "relay.example.com:443", p.Addr)
	assert.Equal(t, "s3cret", p.APIKey)
	assert.True(t, p.TLS)
}

func TestLoadProfile_EnvOverrides(t *testing.T) {
	path := writeProfile(t, `
addr = "file:10000"
api_key = "from-file"
`)
	t.Setenv(addrEnv, "env:10000")
	t.Setenv(apiKeyEnv, "from-env")

	p, err := loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "env:10000", p.Addr)
	assert.Equal(t, "from-env", p.APIKey)
}

func TestLoadProfile_InvalidTOML(t *testing.T) {
	path := writeProfile(t, "addr = [unterminated")

	_, err := loadProfile(path)
	assert.Error(t, err)
}

func TestDefaultProfilePath_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "relay", "api.toml"), defaultProfilePath())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_HOST", "example")

	if got := expandEnvVars("addr = \"${RELAY_TEST_HOST}:1\""); got != "addr = \"example:1\"" {
		t.Errorf("expandEnvVars() = %q", got)
	}
	if got := expandEnvVars("${RELAY_TEST_UNSET_VAR}"); got != "" {
		t.Errorf("unset var should expand to empty, got %q", got)
	}
}
