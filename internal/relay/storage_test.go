package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)
	return s
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"3f2a9c.zip", true},
		{"app-signed.zip", true},
		{"with space.zip", true},
		{"", false},
		{".", false},
		{"..", false},
		{"work", false},
		{"a/b.zip", false},
		{`a\b.zip`, false},
		{"../escape.zip", false},
		{"c:evil.zip", false},
		{"nul\x00.zip", false},
		{tempPrefix + "123", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidName(tt.name))
		})
	}
}

func TestStorage_SaveOpenRemove(t *testing.T) {
	s := newTestStorage(t)

	n, err := s.Save("a.zip", strings.NewReader("first"))
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.True(t, s.Exists("a.zip"))

	_, err = s.Save("a.zip", strings.NewReader("second"))
	require.NoError(t, err)
	data, err := os.ReadFile(s.Path("a.zip"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	f, err := s.Open("a.zip")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	removed, err := s.Remove("a.zip")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.Remove("a.zip")
	require.NoError(t, err)
	require.False(t, removed)

	_, err = s.Open("a.zip")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, s.Exists("a.zip"))

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), tempPrefix), "temp file left behind: %s", e.Name())
	}
}

func TestStorage_RejectsInvalidNames(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Save("../x.zip", strings.NewReader("x"))
	require.Error(t, err)

	_, err = s.Open("work")
	require.ErrorIs(t, err, ErrNotFound)

	removed, err := s.Remove("../x.zip")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestStorage_Adopt(t *testing.T) {
	s := newTestStorage(t)
	src := filepath.Join(s.Dir, workDirName, "tmp.zip")
	require.NoError(t, os.WriteFile(src, []byte("signed"), 0o600))

	require.NoError(t, s.Adopt("a-signed.zip", src))
	require.True(t, s.Exists("a-signed.zip"))
	require.NoFileExists(t, src)
}

func TestStorage_NewWorkDir(t *testing.T) {
	s := newTestStorage(t)

	a, err := s.NewWorkDir()
	require.NoError(t, err)
	b, err := s.NewWorkDir()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.DirExists(t, a)
	require.Equal(t, filepath.Join(s.Dir, workDirName), filepath.Dir(a))
}

func TestStorage_Sweep(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	old := now.Add(-2 * time.Hour)

	_, err := s.Save("stale.zip", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(s.Path("stale.zip"), old, old))

	_, err = s.Save("fresh.zip", strings.NewReader("x"))
	require.NoError(t, err)

	staleWork, err := s.NewWorkDir()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(staleWork, "app.exe"), []byte("MZ"), 0o600))
	require.NoError(t, os.Chtimes(staleWork, old, old))

	freshWork, err := s.NewWorkDir()
	require.NoError(t, err)

	removed, err := s.Sweep(time.Hour, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"stale.zip", workDirName + "/" + filepath.Base(staleWork)}, removed)

	require.False(t, s.Exists("stale.zip"))
	require.True(t, s.Exists("fresh.zip"))
	require.NoDirExists(t, staleWork)
	require.DirExists(t, freshWork)
	require.DirExists(t, filepath.Join(s.Dir, workDirName))
}
