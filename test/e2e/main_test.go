//go:build e2e

// Package e2e contains end-to-end tests that run the signrelay binary as
// both client and signing host. Tests in this package assume the server is
// managed by TestMain - they do not start/stop it themselves.
package e2e

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"
)

// BinaryEnvVar overrides the location of the signrelay binary under test.
const BinaryEnvVar = "SIGNRELAY_E2E_BINARY"

var (
	binaryPath string
	serverURL  string
	serverDir  string
)

// fakeSignTool stands in for signtool.exe. It fails when the forwarded
// options contain FAIL and otherwise appends a marker to every file in
// its working directory.
const fakeSignTool = `#!/bin/sh
for arg in "$@"; do
	if [ "$arg" = "FAIL" ]; then
		echo "Number of errors: 1"
		echo "SignTool Error: cert not found" >&2
		exit 3
	fi
done
for f in *; do
	printf '|signed' >> "$f"
done
echo "Successfully signed: $#"
`

// TestMain starts one signing host for all e2e tests and stops it on exit.
func TestMain(m *testing.M) {
	if runtime.GOOS == "windows" {
		fmt.Fprintf(os.Stderr, "SKIP: the fake signing tool is a shell script\n")
		os.Exit(0)
	}

	binaryPath = os.Getenv(BinaryEnvVar)
	if binaryPath == "" {
		_, thisFile, _, ok := runtime.Caller(0)
		if !ok {
			fmt.Fprintf(os.Stderr, "SKIP: Could not determine test file location\n")
			os.Exit(0)
		}
		repoRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
		binaryPath = filepath.Join(repoRoot, "signrelay")
	}
	if _, err := os.Stat(binaryPath); err != nil {
		fmt.Fprintf(os.Stderr, "SKIP: signrelay binary not found at %s (run 'go build ./cmd/signrelay' first)\n", binaryPath)
		os.Exit(0)
	}

	var err error
	serverDir, err = os.MkdirTemp("", "signrelay-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}

	server, err := startServer(serverDir)
	if err != nil {
		_ = os.RemoveAll(serverDir)
		fmt.Fprintf(os.Stderr, "FAIL: could not start signing host: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := stopServer(server); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to stop signing host: %v\n", err)
	}
	_ = os.RemoveAll(serverDir)

	os.Exit(code)
}

// startServer runs "signrelay serve" on a free loopback port and waits
// until it answers.
func startServer(dir string) (*exec.Cmd, error) {
	tool := filepath.Join(dir, "signtool.sh")
	if err := os.WriteFile(tool, []byte(fakeSignTool), 0o755); err != nil {
		return nil, err
	}

	addr, err := freeAddr()
	if err != nil {
		return nil, err
	}
	cfg := fmt.Sprintf(`server:
  listen: %s
  storage_dir: %s
signtool:
  path: %s
  timeout: 30s
log:
  file: %s
  level: debug
  audit_file: %s
`, addr, filepath.Join(dir, "storage"), tool, filepath.Join(dir, "server.log"), filepath.Join(dir, "audit.log"))
	cfgPath := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath, "serve", "--config", cfgPath, "--daemon")
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	serverURL = "http://" + addr
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(serverURL + "/metrics")
		if err == nil {
			_ = resp.Body.Close()
			return cmd, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	return nil, fmt.Errorf("no answer on %s", addr)
}

func stopServer(cmd *exec.Cmd) error {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(35 * time.Second):
		_ = cmd.Process.Kill()
		return fmt.Errorf("server did not exit after SIGTERM")
	}
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().String(), nil
}
