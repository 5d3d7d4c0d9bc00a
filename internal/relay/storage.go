package relay

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// workDirName is the storage subdirectory holding per-request working
// directories. It is reserved and cannot be used as an archive name.
const workDirName = "work"

// tempPrefix marks in-progress writes; such files are never served.
const tempPrefix = ".partial-"

// Storage is the server-local area holding transient archives. Each
// archive is a single file named by its wire name directly under Dir.
type Storage struct {
	Dir string
}

// NewStorage creates the storage area (and its work subdirectory) if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Join(dir, workDirName), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{Dir: dir}, nil
}

// ValidName reports whether name can identify an archive: a single path
// element with no separators of either platform, no NUL, and not one of
// the reserved names.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." || name == workDirName {
		return false
	}
	if strings.HasPrefix(name, tempPrefix) {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00:")
}

// Path returns the on-disk path for name. The name must be valid.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Save writes r to name, replacing any existing archive atomically, and
// returns the number of bytes written.
func (s *Storage) Save(name string, r io.Reader) (int64, error) {
	if !ValidName(name) {
		return 0, fmt.Errorf("invalid archive name %q", name)
	}

	tmp, err := os.CreateTemp(s.Dir, tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, s.Path(name))
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("save %s: %w", name, err)
	}
	return n, nil
}

// Adopt moves the file at src into storage as name, replacing any
// existing archive. src must be on the same filesystem as Dir.
func (s *Storage) Adopt(name, src string) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	if err := os.Rename(src, s.Path(name)); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}

// Open opens the named archive. It returns ErrNotFound if the archive
// does not exist or the name is invalid.
func (s *Storage) Open(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Exists reports whether the named archive is in storage.
func (s *Storage) Exists(name string) bool {
	if !ValidName(name) {
		return false
	}
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the named archive. It reports whether anything was
// deleted; a missing archive is not an error.
func (s *Storage) Remove(name string) (bool, error) {
	if !ValidName(name) {
		return false, nil
	}
	err := os.Remove(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", name, err)
	}
	return true, nil
}

// NewWorkDir creates a fresh, uniquely named working directory.
func (s *Storage) NewWorkDir() (string, error) {
	dir := filepath.Join(s.Dir, workDirName, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// Sweep removes archives, partial writes and working directories last
// modified before now-maxAge. It returns the removed paths relative to
// Dir and the first error encountered, continuing past failures.
func (s *Storage) Sweep(maxAge time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-maxAge)
	var removed []string
	var firstErr error

	sweep := func(rel string) {
		entries, err := os.ReadDir(filepath.Join(s.Dir, rel))
		if err != nil {
			if firstErr == nil && !errors.Is(err, fs.ErrNotExist) {
				firstErr = err
			}
			return
		}
		for _, e := range entries {
			if rel == "" && e.Name() == workDirName {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			p := filepath.Join(rel, e.Name())
			if err := os.RemoveAll(filepath.Join(s.Dir, p)); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			removed = append(removed, filepath.ToSlash(p))
		}
	}

	sweep("")
	sweep(workDirName)
	return removed, firstErr
}
