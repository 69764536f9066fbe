package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "15s"-style values in YAML; yaml.v3 decodes bare
// time.Duration fields only from integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig is the govern-server configuration file layout
type ServerConfig struct {
	HTTP struct {
		Port        int      `yaml:"port"`
		ReadTimeout Duration `yaml:"read_timeout"`
		IdleTimeout Duration `yaml:"idle_timeout"`
		EnableCORS  bool     `yaml:"enable_cors"`
	} `yaml:"http"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Database struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
		Migrate      bool   `yaml:"migrate"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Propagate struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"propagate"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
			MaxAgeDays int    `yaml:"max_age_days"`
		} `yaml:"file"`
	} `yaml:"log"`
}

// DefaultServerConfig returns the built-in defaults
func DefaultServerConfig() ServerConfig {
	var cfg ServerConfig
	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = Duration(15 * time.Second)
	cfg.HTTP.IdleTimeout = Duration(60 * time.Second)
	cfg.HTTP.EnableCORS = true
	cfg.Database.MaxOpenConns = 25
	cfg.Database.MaxIdleConns = 5
	cfg.Database.Migrate = true
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.File.MaxSizeMB = 100
	cfg.Log.File.MaxBackups = 3
	cfg.Log.File.MaxAgeDays = 28
	return cfg
}

// LoadServerConfig reads a YAML config file over the defaults
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
