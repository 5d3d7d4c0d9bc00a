package config

import (
	"errors"
	"fmt"
	"os"
)

// Environment overrides applied after the file is parsed.
const (
	ServerEnvVar   = "SIGNRELAY_SERVER"
	ListenEnvVar   = "SIGNRELAY_LISTEN"
	LogLevelEnvVar = "SIGNRELAY_LOG_LEVEL"
)

// Load reads the config file at Path(). A missing file yields
// DefaultConfig. Environment overrides are applied before validation and
// ~ is expanded in path fields afterwards.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	expandPaths(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(ServerEnvVar); v != "" {
		cfg.Client.Server = v
	}
	if v := os.Getenv(ListenEnvVar); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv(LogLevelEnvVar); v != "" {
		cfg.Log.Level = v
	}
}

func expandPaths(cfg *Config) {
	cfg.Client.TempDir = ExpandHome(cfg.Client.TempDir)
	cfg.Server.StorageDir = ExpandHome(cfg.Server.StorageDir)
	cfg.SignTool.Path = ExpandHome(cfg.SignTool.Path)
	cfg.Log.File = ExpandHome(cfg.Log.File)
	cfg.Log.AuditFile = ExpandHome(cfg.Log.AuditFile)
}
