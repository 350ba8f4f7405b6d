package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("AMELIA_HOST", "")
	t.Setenv("AMELIA_PORT", "")
	t.Setenv("AMELIA_DATABASE_URL", "")

	b := FromEnv()
	require.Equal(t, defaultHost, b.Host)
	require.Equal(t, defaultPort, b.Port)
	require.Empty(t, b.DatabaseURL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AMELIA_HOST", "0.0.0.0")
	t.Setenv("AMELIA_PORT", "9001")
	t.Setenv("AMELIA_DATABASE_URL", "postgres://localhost/amelia")

	b := FromEnv()
	require.Equal(t, "0.0.0.0", b.Host)
	require.Equal(t, 9001, b.Port)
	require.Equal(t, "postgres://localhost/amelia", b.DatabaseURL)
}

func TestFromEnvIgnoresGarbagePort(t *testing.T) {
	t.Setenv("AMELIA_HOST", "")
	t.Setenv("AMELIA_PORT", "not-a-number")
	t.Setenv("AMELIA_DATABASE_URL", "")

	b := FromEnv()
	require.Equal(t, defaultPort, b.Port)
}

func TestDefaultServerSettings(t *testing.T) {
	s := DefaultServerSettings()
	require.Equal(t, 4, s.MaxConcurrent)
	require.Equal(t, 3, s.RetryMaxAttempts)
	require.Equal(t, 2.0, s.RetryBackoffCoefficient)
}

func TestLoadYAMLOverridesOnlyProvidedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	err := os.WriteFile(path, []byte("max_concurrent: 10\nretry_max_attempts: 5\n"), 0o644)
	require.NoError(t, err)

	s, err := LoadYAML(path)
	require.NoError(t, err)
	require.Equal(t, 10, s.MaxConcurrent)
	require.Equal(t, 5, s.RetryMaxAttempts)
	// Fields absent from the override file keep their defaults.
	require.Equal(t, DefaultServerSettings().RequestTimeoutSec, s.RequestTimeoutSec)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadYAMLInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := LoadYAML(path)
	require.Error(t, err)
}
