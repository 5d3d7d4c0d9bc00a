//go:build e2e

package e2e

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// signResult is the outcome of one client invocation.
type signResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// newWorkspace creates a directory holding the named files, each with
// content equal to its name, and a client config for server. It returns
// the workspace and config paths.
func newWorkspace(t *testing.T, server string, files ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := fmt.Sprintf("log:\n  file: %s\n  level: debug\n", filepath.Join(dir, "client.log"))
	if server != "" {
		cfg = fmt.Sprintf("client:\n  server: %s\n  timeout: 1m\n", server) + cfg
	}
	cfgPath := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir, cfgPath
}

// runClient runs "signrelay <args>" in dir with the given config.
func runClient(t *testing.T, dir, cfgPath string, args ...string) signResult {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"SIGNRELAY_CONFIG="+cfgPath,
		"SIGNRELAY_SERVER=",
		"SIGNRELAY_SILENT=",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := signResult{}
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		t.Fatalf("run signrelay: %v", err)
	}
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	return res
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// storedArchives lists archives still held by the signing host.
func storedArchives(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(serverDir, "storage"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names
}
