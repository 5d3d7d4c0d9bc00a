package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// Unpack extracts the archive read from r into dir, creating dir and any
// intermediate directories an entry name implies. Directory entries and
// entries with an empty name are skipped; a name that would land outside
// dir fails the whole operation. Each written file gets the entry's
// modification time. The written names are returned in archive order,
// slash-separated and relative to dir.
func Unpack(r io.ReaderAt, size int64, dir string) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var written []string
	for _, f := range zr.File {
		if f.Name == "" || f.FileInfo().IsDir() {
			continue
		}
		rel := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(rel) {
			return written, fmt.Errorf("entry %q escapes the target directory", f.Name)
		}
		if err := extract(f, filepath.Join(dir, rel)); err != nil {
			return written, err
		}
		written = append(written, filepath.ToSlash(rel))
	}
	return written, nil
}

// UnpackFile is Unpack for an archive on disk.
func UnpackFile(src, dir string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return Unpack(f, info.Size(), dir)
}

func extract(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("unpack %s: %w", f.Name, err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("unpack %s: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("unpack %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("unpack %s: %w", f.Name, err)
	}

	if !f.Modified.IsZero() {
		if err := os.Chtimes(dst, f.Modified, f.Modified); err != nil {
			return fmt.Errorf("unpack %s: set mtime: %w", f.Name, err)
		}
	}
	return nil
}
