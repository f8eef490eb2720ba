package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	yamlDoc := []byte(`
node:
  log_level: debug
  log_format: json
transport:
  direct:
    enabled: true
  radio:
    enabled: true
`)
	cfg, err := Parse(yamlDoc)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Node.LogLevel)
	require.Equal(t, "json", cfg.Node.LogFormat)
	require.True(t, cfg.Transport.Radio.Enabled)
	// untouched defaults survive the merge
	require.Equal(t, 20, cfg.DHT.BucketSize)
}

func TestParseRejectsInvalidLogLevel(t *testing.T) {
	_, err := Parse([]byte("node:\n  log_level: verbose\n"))
	require.Error(t, err)
}

func TestParseRejectsNoTransportEnabled(t *testing.T) {
	yamlDoc := []byte(`
transport:
  direct:
    enabled: false
`)
	_, err := Parse(yamlDoc)
	require.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("MESHNET_TEST_ENDPOINT", "wss://example.test/ws"))
	defer os.Unsetenv("MESHNET_TEST_ENDPOINT")

	yamlDoc := []byte(`
transport:
  rendezvous:
    enabled: true
    endpoint: ${MESHNET_TEST_ENDPOINT}
`)
	cfg, err := Parse(yamlDoc)
	require.NoError(t, err)
	require.Equal(t, "wss://example.test/ws", cfg.Transport.Rendezvous.Endpoint)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
