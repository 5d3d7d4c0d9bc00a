package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks every set field of cfg:
//   - client.server is an absolute http or https URL
//   - server.listen is host:port or :port with a port in 1-65535
//   - durations parse with time.ParseDuration and are positive
//   - numeric limits are non-negative
//   - log.level is one of debug, info, warn, error
//
// Required-ness of client.server and server.listen is checked by the
// command that needs them, not here.
func Validate(cfg *Config) error {
	if cfg.Client.Server != "" {
		if err := validateServerURL(cfg.Client.Server, "client.server"); err != nil {
			return err
		}
	}
	if err := validateDuration(cfg.Client.Timeout, "client.timeout"); err != nil {
		return err
	}

	if cfg.Server.Listen != "" {
		if err := validateListenAddr(cfg.Server.Listen, "server.listen"); err != nil {
			return err
		}
	}
	if cfg.Server.PublicURL != "" {
		if err := validateServerURL(cfg.Server.PublicURL, "server.public_url"); err != nil {
			return err
		}
	}
	if cfg.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes: must be non-negative, got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit: must be non-negative, got %d", cfg.Server.RateLimit)
	}
	if cfg.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_burst: must be non-negative, got %d", cfg.Server.RateBurst)
	}
	if cfg.Server.MaxConcurrentSigns < 0 {
		return fmt.Errorf("server.max_concurrent_signs: must be non-negative, got %d", cfg.Server.MaxConcurrentSigns)
	}
	if err := validateDuration(cfg.Server.StorageMaxAge, "server.storage_max_age"); err != nil {
		return err
	}
	if err := validateDuration(cfg.Server.SweepInterval, "server.sweep_interval"); err != nil {
		return err
	}

	if err := validateDuration(cfg.SignTool.Timeout, "signtool.timeout"); err != nil {
		return err
	}

	if cfg.Log.Level != "" && !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level: invalid value %q, must be one of: debug, info, warn, error", cfg.Log.Level)
	}
	return nil
}

// validateListenAddr accepts ":port" or "host:port".
func validateListenAddr(addr, field string) error {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return fmt.Errorf("%s: invalid format %q, expected host:port or :port", field, addr)
	}
	portStr := addr[idx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s: invalid port %q in %q", field, portStr, addr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: invalid port number %d, must be 1-65535", field, port)
	}
	return nil
}

// validateDuration accepts an empty string or a positive duration.
func validateDuration(d, field string) error {
	if d == "" {
		return nil
	}
	v, err := time.ParseDuration(d)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, d)
	}
	if v <= 0 {
		return fmt.Errorf("%s: must be positive, got %q", field, d)
	}
	return nil
}

func validateServerURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %v", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host in %q", field, raw)
	}
	return nil
}
