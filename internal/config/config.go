package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the server application configuration, loaded from a YAML file.
// Every field has a usable default so the server runs with no config at all.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Data        DataConfig        `yaml:"data"`
	OTA         OTAConfig         `yaml:"ota"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DataConfig locates everything the server keeps on disk: the snapshot,
// the policy document and the firmware blob.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

type OTAConfig struct {
	TriggerTimeoutSeconds int `yaml:"trigger_timeout_seconds"`
	MaxDispatch           int `yaml:"max_dispatch"`
}

type PersistenceConfig struct {
	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8443",
			TLS:  TLSConfig{Enabled: true},
		},
		Data: DataConfig{Dir: "data"},
		OTA: OTAConfig{
			TriggerTimeoutSeconds: 5,
			MaxDispatch:           8,
		},
		Persistence: PersistenceConfig{FlushIntervalSeconds: 30},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     30,
		},
	}
}

// Load reads the config file at path on top of the defaults. An absent file
// is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) SnapshotPath() string { return filepath.Join(c.Data.Dir, "data_store.json") }
func (c Config) PolicyPath() string   { return filepath.Join(c.Data.Dir, "policy.json") }
func (c Config) FirmwareDir() string  { return filepath.Join(c.Data.Dir, "firmware") }
func (c Config) FirmwarePath() string { return filepath.Join(c.FirmwareDir(), "firmware.bin") }

func (c Config) CertFile() string {
	if c.Server.TLS.CertFile != "" {
		return c.Server.TLS.CertFile
	}
	return filepath.Join(c.Data.Dir, "cert.pem")
}

func (c Config) KeyFile() string {
	if c.Server.TLS.KeyFile != "" {
		return c.Server.TLS.KeyFile
	}
	return filepath.Join(c.Data.Dir, "key.pem")
}
