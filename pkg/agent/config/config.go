package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the agent configuration, read from a JSON file next to the
// binary. The core keys are required; the agent refuses to start without
// them rather than guessing an identity.
type Config struct {
	DeviceID          string `json:"device_id"`
	ServerURL         string `json:"server_url"`
	TelemetryInterval int    `json:"telemetry_interval"`
	OTAPort           int    `json:"ota_port"`
	CurrentVersion    string `json:"current_version"`

	// The server ships with a self-signed certificate by default.
	InsecureSkipVerify bool `json:"insecure_skip_verify"`

	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
	LogMaxSize    int    `json:"log_max_size"`
	LogMaxBackups int    `json:"log_max_backups"`
	LogMaxAge     int    `json:"log_max_age"`
	LogCompress   bool   `json:"log_compress"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var missing []string
	if cfg.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if cfg.ServerURL == "" {
		missing = append(missing, "server_url")
	}
	if cfg.TelemetryInterval <= 0 {
		missing = append(missing, "telemetry_interval")
	}
	if cfg.OTAPort <= 0 {
		missing = append(missing, "ota_port")
	}
	if cfg.CurrentVersion == "" {
		missing = append(missing, "current_version")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config %s is missing required keys: %s", path, strings.Join(missing, ", "))
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &cfg, nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.TelemetryInterval) * time.Second
}
