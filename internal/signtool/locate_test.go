package signtool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func makeTool(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("tool"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestLocate_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, ExeName)
	makeTool(t, tool)

	l := &Locator{Path: tool, Candidates: []string{"/nonexistent/x"}}
	got, err := l.Locate()
	if err != nil || got != tool {
		t.Fatalf("Locate() = %q, %v", got, err)
	}

	l.Path = filepath.Join(dir, "missing.exe")
	if _, err := l.Locate(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() error = %v, want ErrNotFound", err)
	}
}

func TestLocate_CandidateOrder(t *testing.T) {
	dir := t.TempDir()
	second := filepath.Join(dir, "kit", ExeName)
	third := filepath.Join(dir, "clickonce", ExeName)
	makeTool(t, second)
	makeTool(t, third)

	l := &Locator{Candidates: []string{filepath.Join(dir, "absent", ExeName), second, third}}
	got, err := l.Locate()
	if err != nil || got != second {
		t.Fatalf("Locate() = %q, %v; want %q", got, err, second)
	}
}

func TestLocate_NewestVersionFirst(t *testing.T) {
	root := t.TempDir()
	makeTool(t, filepath.Join(root, "10.0.9200.0", "x64", ExeName))
	makeTool(t, filepath.Join(root, "10.0.19041.0", "x64", ExeName))
	makeTool(t, filepath.Join(root, "10.0.22621.0", "x86", ExeName))
	if err := os.MkdirAll(filepath.Join(root, "arm64"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := &Locator{VersionRoot: root, Arch: "x64"}
	got, err := l.Locate()
	want := filepath.Join(root, "10.0.19041.0", "x64", ExeName)
	if err != nil || got != want {
		t.Fatalf("Locate() = %q, %v; want %q", got, err, want)
	}

	l.Arch = "x86"
	got, _ = l.Locate()
	if want := filepath.Join(root, "10.0.22621.0", "x86", ExeName); got != want {
		t.Errorf("Locate() x86 = %q, want %q", got, want)
	}
}

func TestLocate_NotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	l := &Locator{Candidates: []string{filepath.Join(t.TempDir(), ExeName)}, VersionRoot: t.TempDir()}
	if _, err := l.Locate(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() error = %v, want ErrNotFound", err)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"10.0.22621.0", "10.0.19041.0", 1},
		{"10.0.9200", "10.0.19041.0", -1},
		{"10.0", "10.0.0.0", 0},
		{"8.1", "10.0", -1},
	}
	for _, tc := range tests {
		if got := compareVersions(parseVersion(tc.a), parseVersion(tc.b)); got != tc.want {
			t.Errorf("compareVersions(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
	if parseVersion("arm64") != nil || parseVersion("10.x") != nil {
		t.Error("non-numeric versions should not parse")
	}
}
