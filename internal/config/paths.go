package config

import (
	"os"
	"path/filepath"
	"strings"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "SIGNRELAY_CONFIG"

// Dir returns the signrelay configuration directory:
// $XDG_CONFIG_HOME/signrelay, defaulting to ~/.config/signrelay.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = "~/.config"
	}
	return filepath.Join(ExpandHome(base), "signrelay")
}

// Path returns the config file path, honouring SIGNRELAY_CONFIG.
func Path() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(Dir(), "config.yaml")
}

// ExpandHome replaces a leading ~ with the user's home directory. The path
// is returned unchanged when the home directory is unknown.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
