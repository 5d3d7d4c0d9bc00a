// Package submit drives one signing request from the client side:
// package, upload, sign, download, redistribute, clean up.
//
// Steps run strictly in order and are never retried. Once the upload has
// succeeded, the remote archives are removed on every exit path; the
// local temp area is removed on every exit path.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/xdg/signrelay/internal/archive"
	"github.com/xdg/signrelay/internal/clog"
	"github.com/xdg/signrelay/internal/fileset"
	"github.com/xdg/signrelay/internal/relay"
	"github.com/xdg/signrelay/internal/signopt"
)

var (
	// ErrLocalIO means packaging, unpacking or copying a local file failed.
	ErrLocalIO = errors.New("local file operation failed")

	// ErrSignToolExit means the remote signing tool exited nonzero.
	ErrSignToolExit = errors.New("signing tool exited with a nonzero code")
)

// cleanupTimeout bounds the best-effort remote remove call.
const cleanupTimeout = 30 * time.Second

// resultFile and unpackDir are fixed names inside the private temp area.
const (
	resultFile = "result" + archive.Ext
	unpackDir  = "unpacked"
)

// SignToolError carries the result of a failed remote signing run.
type SignToolError struct {
	Result *relay.SignResult
}

func (e *SignToolError) Error() string {
	return fmt.Sprintf("signing tool exited with code %d", e.Result.ExitCode)
}

func (e *SignToolError) Unwrap() error { return ErrSignToolExit }

// API is the server surface the driver needs. *relay.Client implements it.
type API interface {
	Upload(ctx context.Context, path string) (*relay.UploadResult, error)
	Sign(ctx context.Context, req relay.SignRequest) (*relay.SignResult, error)
	Download(ctx context.Context, rawURL string, w io.Writer) (int64, error)
	Remove(ctx context.Context, names []string) (*relay.RemoveResult, error)
}

// Driver runs the client protocol.
type Driver struct {
	API API

	// TempDir is the parent of the private temp area; empty means
	// os.TempDir.
	TempDir string

	// NewName returns a collision-free archive base name. Defaults to a
	// random UUID.
	NewName func() string
}

// Run signs files remotely with the forwarded options of req and
// overwrites each original with its signed copy. On a nonzero tool exit
// it returns the result together with a *SignToolError.
func (d *Driver) Run(ctx context.Context, req *signopt.Request, files *fileset.Set) (*relay.SignResult, error) {
	area, err := os.MkdirTemp(d.TempDir, "signrelay-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp area: %w", ErrLocalIO, err)
	}
	defer func() {
		if err := os.RemoveAll(area); err != nil {
			clog.Warn("remove temp area %s: %v", area, err)
		}
	}()

	// Package
	name := d.newName() + archive.Ext
	reqPath := filepath.Join(area, name)
	if err := archive.PackFile(reqPath, files.Paths()); err != nil {
		return nil, fmt.Errorf("%w: package files: %w", ErrLocalIO, err)
	}
	if info, err := os.Stat(reqPath); err == nil {
		clog.Info("packaged %d file(s) into %s (%s)", files.Len(), name, humanize.Bytes(uint64(info.Size())))
	}

	// Upload
	if _, err := d.API.Upload(ctx, reqPath); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	clog.Debug("uploaded %s", name)

	remote := []string{name}
	defer func() { d.removeRemote(ctx, remote) }()

	// Invoke-sign
	subcommands := req.Subcommands()
	clog.Info("requesting signature for %s with %q", name, subcommands)
	res, err := d.API.Sign(ctx, relay.SignRequest{ArchiveName: name, Subcommands: subcommands})
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", name, err)
	}
	if res.ExitCode != 0 {
		clog.Error("signing tool exited with code %d", res.ExitCode)
		clog.Block(clog.LevelError, "signtool stdout", res.StandardOutput)
		clog.Block(clog.LevelError, "signtool stderr", res.StandardError)
		return res, &SignToolError{Result: res}
	}
	clog.Block(clog.LevelDebug, "signtool stdout", res.StandardOutput)
	clog.Block(clog.LevelDebug, "signtool stderr", res.StandardError)
	if res.DownloadURL == "" {
		return res, fmt.Errorf("sign %s: %w: response has no download URL", name, relay.ErrServerCommunication)
	}
	remote = append(remote, resultName(res.DownloadURL, name))

	// Download
	resultPath := filepath.Join(area, resultFile)
	if err := d.download(ctx, res.DownloadURL, resultPath); err != nil {
		return res, err
	}

	// Redistribute
	if err := redistribute(resultPath, filepath.Join(area, unpackDir), files); err != nil {
		return res, err
	}
	return res, nil
}

func (d *Driver) newName() string {
	if d.NewName != nil {
		return d.NewName()
	}
	return uuid.NewString()
}

func (d *Driver) download(ctx context.Context, rawURL, dst string) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrLocalIO, dst, err)
	}
	n, err := d.API.Download(ctx, rawURL, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		return fmt.Errorf("%w: write %s: %w", ErrLocalIO, dst, closeErr)
	}
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	clog.Debug("downloaded result archive (%s)", humanize.Bytes(uint64(n)))
	return nil
}

// removeRemote asks the server to delete names. Failure is logged only.
func (d *Driver) removeRemote(ctx context.Context, names []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if _, err := d.API.Remove(ctx, names); err != nil {
		clog.Warn("remote cleanup of %v failed: %v", names, err)
		return
	}
	clog.Debug("removed remote archives %v", names)
}

// resultName extracts the archive name from a download URL, falling back
// to the server's naming rule.
func resultName(rawURL, requestName string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && relay.ValidName(base) {
			return base
		}
	}
	return relay.SignedName(requestName)
}

// redistribute unpacks the result archive and copies each file over the
// original with the same base name.
func redistribute(resultPath, dir string, files *fileset.Set) error {
	names, err := archive.UnpackFile(resultPath, dir)
	if err != nil {
		return fmt.Errorf("%w: unpack result: %w", ErrLocalIO, err)
	}

	copied := 0
	for _, name := range names {
		dst, ok := files.Path(path.Base(name))
		if !ok {
			clog.Warn("result entry %s matches no submitted file, skipped", name)
			continue
		}
		if err := copyOver(filepath.Join(dir, filepath.FromSlash(name)), dst); err != nil {
			return fmt.Errorf("%w: %w", ErrLocalIO, err)
		}
		clog.Info("updated %s", dst)
		copied++
	}
	if copied < files.Len() {
		clog.Warn("result archive updated %d of %d file(s)", copied, files.Len())
	}
	return nil
}

// copyOver replaces the content of dst with src.
func copyOver(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
