// Package fileset expands file-path patterns into the set of files sent to
// the signing host. Files are keyed by base name because the transfer
// archive is flat; two matches sharing a base name fail the whole request.
package fileset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrDuplicateFileName is wrapped by *DuplicateError.
	ErrDuplicateFileName = errors.New("duplicate file name")
	// ErrNoFiles is returned when no pattern matched a file.
	ErrNoFiles = errors.New("no files matched")
)

// DuplicateError names the colliding base name and both of its sources.
type DuplicateError struct {
	Name   string
	First  string // directory of the first match
	Second string // directory of the colliding match
}

func (e *DuplicateError) Error() string {
	if e.First == e.Second {
		return fmt.Sprintf("file %q matched more than once in %s", e.Name, e.First)
	}
	return fmt.Sprintf("file name %q is ambiguous: found in %s and %s", e.Name, e.First, e.Second)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateFileName }

// Set maps base file names to the absolute directory they were found in.
// Names keep the order in which they were resolved.
type Set struct {
	names []string
	dirs  map[string]string
}

// Len returns the number of files.
func (s *Set) Len() int { return len(s.names) }

// Names returns the base names in resolution order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Dir returns the source directory recorded for name.
func (s *Set) Dir(name string) (string, bool) {
	d, ok := s.dirs[name]
	return d, ok
}

// Path returns the full source path recorded for name.
func (s *Set) Path(name string) (string, bool) {
	d, ok := s.dirs[name]
	if !ok {
		return "", false
	}
	return filepath.Join(d, name), true
}

// Paths returns full source paths in resolution order.
func (s *Set) Paths() []string {
	out := make([]string, len(s.names))
	for i, n := range s.names {
		out[i] = filepath.Join(s.dirs[n], n)
	}
	return out
}

func (s *Set) add(dir, name string) error {
	if prev, ok := s.dirs[name]; ok {
		return &DuplicateError{Name: name, First: prev, Second: dir}
	}
	s.names = append(s.names, name)
	s.dirs[name] = dir
	return nil
}

// Resolve expands patterns in order. Each pattern is split into a
// directory (default ".") and a name part that may contain filepath.Match
// wildcards; only regular files directly inside the directory match.
// Backslashes are treated as path separators.
func Resolve(patterns []string) (*Set, error) {
	set := &Set{dirs: make(map[string]string)}
	for _, p := range patterns {
		dir, name := splitPattern(p)
		if name == "" {
			return nil, fmt.Errorf("pattern %q has no file name", p)
		}
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve directory of %q: %w", p, err)
		}
		matches, err := match(absDir, name)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", p, err)
		}
		for _, m := range matches {
			if err := set.add(absDir, m); err != nil {
				return nil, err
			}
		}
	}
	if set.Len() == 0 {
		return nil, ErrNoFiles
	}
	return set, nil
}

func splitPattern(p string) (dir, name string) {
	p = filepath.FromSlash(strings.ReplaceAll(p, `\`, "/"))
	dir, name = filepath.Split(p)
	if dir == "" {
		dir = "."
	}
	return dir, name
}

// match lists regular files in dir whose names match pattern. A missing
// directory matches nothing. A pattern that matches nothing, or is not a
// valid pattern, is tried as a literal file name, so names such as
// app[x64].exe resolve to themselves.
func match(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		if literal(dir, pattern) {
			return []string{pattern}, nil
		}
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			out = append(out, e.Name())
		}
	}
	if len(out) == 0 && literal(dir, pattern) {
		out = append(out, pattern)
	}
	return out, nil
}

// literal reports whether name is a regular file directly inside dir.
func literal(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && info.Mode().IsRegular()
}
