// Package testutil provides shared test helpers for signrelay tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xdg/signrelay/internal/relay"
	"github.com/xdg/signrelay/internal/signtool"
)

// SignedMarker is appended to every file the fake signer signs.
const SignedMarker = "|signed"

// Signer is a signtool.Invoker that signs by appending SignedMarker to
// each file in the work directory. A nonzero Result.ExitCode fails the
// request without touching the files.
type Signer struct {
	Result signtool.Result
	Err    error

	mu    sync.Mutex
	calls []string
}

func (s *Signer) Locate() (string, error) { return "signtool.exe", nil }

func (s *Signer) Invoke(_ context.Context, _, subcommands, workdir string, _ time.Duration) (signtool.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, subcommands)
	s.mu.Unlock()

	if s.Err != nil {
		return signtool.Result{}, s.Err
	}
	if s.Result.ExitCode != 0 {
		return s.Result, nil
	}
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return signtool.Result{}, err
	}
	for _, e := range entries {
		p := filepath.Join(workdir, e.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			return signtool.Result{}, err
		}
		if err := os.WriteFile(p, append(data, SignedMarker...), 0o644); err != nil {
			return signtool.Result{}, err
		}
	}
	return s.Result, nil
}

// Calls returns the subcommand strings of every Invoke so far.
func (s *Signer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// StartRelay runs a transfer server backed by inv and temporary storage.
// The server is closed when the test ends.
func StartRelay(t *testing.T, inv signtool.Invoker) (*httptest.Server, *relay.Storage) {
	t.Helper()
	storage, err := relay.NewStorage(filepath.Join(t.TempDir(), "storage"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	ts := httptest.NewServer(relay.NewServer("", storage, inv).Handler())
	t.Cleanup(ts.Close)
	return ts, storage
}

// StoredArchives lists the archive files left in storage.
func StoredArchives(t *testing.T, s *relay.Storage) []string {
	t.Helper()
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatalf("read storage: %v", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	return out
}

// Workspace changes into a fresh directory holding build/app.exe with the
// given content and returns the absolute path of that file.
func Workspace(t *testing.T, content string) string {
	t.Helper()
	t.Chdir(t.TempDir())
	if err := os.Mkdir("build", 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join("build", "app.exe")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}
