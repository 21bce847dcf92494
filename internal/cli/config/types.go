// Package config provides configuration management for the QueryPad CLI.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
package config

import "time"

// Default configuration values.
const (
	DefaultConfigFile   = "querypad.yaml"
	DefaultSourceType   = "sqlite"
	DefaultPageSize     = 200
	DefaultPollInterval = "2s"
	DefaultOutput       = "table"
	EnvPrefix           = "QUERYPAD_"
)

// SourceConfig selects and configures the data source backend.
type SourceConfig struct {
	// Type is "sqlite", "postgres", "duckdb" or "rest".
	Type string `koanf:"type"`

	// Path is the database file for sqlite/duckdb (":memory:" default).
	Path string `koanf:"path"`

	// Network settings for postgres.
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// URL and Token configure the rest backend.
	URL   string `koanf:"url"`
	Token string `koanf:"token"`

	// Options holds backend-specific settings (e.g. sslmode).
	Options map[string]string `koanf:"options"`
}

// Config holds all CLI configuration options.
type Config struct {
	Source       SourceConfig `koanf:"source"`
	PageSize     int          `koanf:"page_size"`
	PollInterval string       `koanf:"poll_interval"`
	OutputFormat string       `koanf:"output"`
	Verbose      bool         `koanf:"verbose"`
}

// PollDuration parses the poll interval, falling back to the default on
// empty or malformed values.
func (c *Config) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultPollInterval)
	}
	return d
}
