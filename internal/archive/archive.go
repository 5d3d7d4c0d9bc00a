// Package archive packs files into a flat zip container and unpacks such
// containers again. The same code runs on both ends of the relay: the
// client packs the request and unpacks the signed result, the server does
// the reverse.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Ext is the file extension of relay archives.
const Ext = ".zip"

// Pack writes one deflated entry per path to w, in order. Entry names are
// base names and carry the file's modification time. Two paths with the
// same base name are an error.
func Pack(w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if seen[name] {
			_ = zw.Close()
			return fmt.Errorf("pack %s: duplicate entry name %q", p, name)
		}
		seen[name] = true
		if err := addFile(zw, p, name); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pack %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("pack %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("pack %s: not a regular file", path)
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	hdr.SetMode(info.Mode())
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("pack %s: %w", path, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("pack %s: %w", path, err)
	}
	return nil
}

// PackFile packs paths into a new archive at dst. A partially written dst
// is removed on failure.
func PackFile(dst string, paths []string) (err error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	return Pack(out, paths)
}

// PackDir packs every regular file directly inside dir, sorted by name,
// into a new archive at dst.
func PackDir(dst, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return PackFile(dst, paths)
}
