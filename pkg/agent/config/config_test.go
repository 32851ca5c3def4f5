package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := write(t, `{
		"device_id": "iot-001",
		"server_url": "https://example.com:8443/",
		"telemetry_interval": 10,
		"ota_port": 8000,
		"current_version": "1.0.0"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "iot-001", cfg.DeviceID)
	assert.Equal(t, "https://example.com:8443", cfg.ServerURL, "trailing slash stripped")
	assert.Equal(t, 10*time.Second, cfg.Interval())
}

func TestLoadReportsAllMissingKeys(t *testing.T) {
	path := write(t, `{"device_id": "iot-001"}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_url")
	assert.Contains(t, err.Error(), "telemetry_interval")
	assert.Contains(t, err.Error(), "ota_port")
	assert.Contains(t, err.Error(), "current_version")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	_, err := Load(write(t, `{device_id}`))
	assert.Error(t, err)
}
