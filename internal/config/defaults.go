package config

// DefaultSignToolCandidates are the well-known signtool install locations
// checked before the versioned Windows Kits tree.
var DefaultSignToolCandidates = []string{
	`C:\Program Files (x86)\Windows Kits\10\bin\x64\signtool.exe`,
	`C:\Program Files (x86)\Windows Kits\10\App Certification Kit\signtool.exe`,
	`C:\Program Files (x86)\Microsoft SDKs\ClickOnce\SignTool\signtool.exe`,
	`C:\Program Files (x86)\Windows Kits\8.1\bin\x64\signtool.exe`,
}

// DefaultConfig returns a Config with every optional field populated.
// client.server and server.listen are left empty: each role requires its
// address to be configured explicitly.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout: "10m",
		},
		Server: ServerConfig{
			StorageDir:         "~/.local/state/signrelay/storage",
			MaxUploadBytes:     1 << 30, // 1GiB
			RateBurst:          10,
			MaxConcurrentSigns: 1,
			StorageMaxAge:      "1h",
			SweepInterval:      "10m",
		},
		SignTool: SignToolConfig{
			Candidates:  append([]string(nil), DefaultSignToolCandidates...),
			VersionRoot: `C:\Program Files (x86)\Windows Kits\10\bin`,
			Arch:        "x64",
			Timeout:     "5m",
		},
		Log: LogConfig{
			File:      "~/.local/state/signrelay/signrelay.log",
			Level:     "info",
			AuditFile: "~/.local/state/signrelay/audit.log",
		},
	}
}
