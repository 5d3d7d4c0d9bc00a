// Package config provides the signrelay configuration types, loaded from a
// YAML file shared by the client and server roles.
package config

import "time"

// Config is the top-level configuration, typically stored at
// ~/.config/signrelay/config.yaml.
type Config struct {
	Client   ClientConfig   `yaml:"client,omitempty"`
	Server   ServerConfig   `yaml:"server,omitempty"`
	SignTool SignToolConfig `yaml:"signtool,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// ClientConfig holds the settings used by `signrelay sign`.
type ClientConfig struct {
	// Server is the base URL of the signing host, e.g. http://signhost:5000.
	Server  string `yaml:"server,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
	TempDir string `yaml:"temp_dir,omitempty"`
}

// ServerConfig holds the settings used by `signrelay serve`.
type ServerConfig struct {
	Listen             string `yaml:"listen,omitempty"`
	PublicURL          string `yaml:"public_url,omitempty"`
	StorageDir         string `yaml:"storage_dir,omitempty"`
	MaxUploadBytes     int64  `yaml:"max_upload_bytes,omitempty"`
	RateLimit          int    `yaml:"rate_limit,omitempty"`
	RateBurst          int    `yaml:"rate_burst,omitempty"`
	MaxConcurrentSigns int    `yaml:"max_concurrent_signs,omitempty"`
	StorageMaxAge      string `yaml:"storage_max_age,omitempty"`
	SweepInterval      string `yaml:"sweep_interval,omitempty"`
	KeepWorkDirs       bool   `yaml:"keep_work_dirs,omitempty"`
	Metrics            *bool  `yaml:"metrics,omitempty"`
}

// SignToolConfig describes where the signing tool lives and how long one
// invocation may run.
type SignToolConfig struct {
	Path        string   `yaml:"path,omitempty"`
	Candidates  []string `yaml:"candidates,omitempty"`
	VersionRoot string   `yaml:"version_root,omitempty"`
	Arch        string   `yaml:"arch,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	File      string `yaml:"file,omitempty"`
	Level     string `yaml:"level,omitempty"`
	AuditFile string `yaml:"audit_file,omitempty"`
}

// ClientTimeout returns client.timeout, or zero when unset.
// Validation guarantees the value parses.
func (c *Config) ClientTimeout() time.Duration {
	return mustDuration(c.Client.Timeout)
}

// SignTimeout returns signtool.timeout, or zero when unset.
func (c *Config) SignTimeout() time.Duration {
	return mustDuration(c.SignTool.Timeout)
}

// StorageMaxAge returns server.storage_max_age, or zero when unset.
func (c *Config) StorageMaxAge() time.Duration {
	return mustDuration(c.Server.StorageMaxAge)
}

// SweepInterval returns server.sweep_interval, or zero when unset.
func (c *Config) SweepInterval() time.Duration {
	return mustDuration(c.Server.SweepInterval)
}

// MetricsEnabled reports whether GET /metrics is served. Defaults to true.
func (c *Config) MetricsEnabled() bool {
	return c.Server.Metrics == nil || *c.Server.Metrics
}

func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
