package signtool

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ExeName is the file name of the signing tool.
const ExeName = "signtool.exe"

// Locator searches for the signing tool.
type Locator struct {
	// Path, when set, is used as-is.
	Path string
	// Candidates are well-known install locations, checked in order.
	Candidates []string
	// VersionRoot holds one directory per SDK version, e.g.
	// 10.0.22621.0, each containing <Arch>/signtool.exe.
	VersionRoot string
	Arch        string
}

// Locate returns Path if set, else the first existing candidate, else the
// tool from the newest version directory, else signtool from PATH.
func (l *Locator) Locate() (string, error) {
	if l.Path != "" {
		if isFile(l.Path) {
			return l.Path, nil
		}
		return "", ErrNotFound
	}
	for _, c := range l.Candidates {
		if isFile(c) {
			return c, nil
		}
	}
	if p := l.fromVersionRoot(); p != "" {
		return p, nil
	}
	if p, err := exec.LookPath("signtool"); err == nil {
		return p, nil
	}
	return "", ErrNotFound
}

func (l *Locator) fromVersionRoot() string {
	if l.VersionRoot == "" {
		return ""
	}
	entries, err := os.ReadDir(l.VersionRoot)
	if err != nil {
		return ""
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && parseVersion(e.Name()) != nil {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(parseVersion(versions[i]), parseVersion(versions[j])) > 0
	})
	arch := l.Arch
	if arch == "" {
		arch = "x64"
	}
	for _, v := range versions {
		p := filepath.Join(l.VersionRoot, v, arch, ExeName)
		if isFile(p) {
			return p
		}
	}
	return ""
}

// parseVersion parses a dotted numeric version such as 10.0.19041.0.
// It returns nil for anything else.
func parseVersion(s string) []int {
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil
		}
		out[i] = n
	}
	return out
}

// compareVersions orders a and b component-wise; missing components
// count as zero.
func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return 0
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
