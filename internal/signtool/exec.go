package signtool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/xdg/signrelay/internal/signopt"
)

// pipeWaitDelay bounds how long Invoke waits for the output pipes to close
// after the tool exits or is killed. Children of the tool that inherit the
// pipes would otherwise hold Invoke past the timeout.
const pipeWaitDelay = 2 * time.Second

// Exec is the Invoker that runs the real signing tool.
type Exec struct {
	Locator
}

// NewExec returns an Exec searching with loc.
func NewExec(loc Locator) *Exec {
	return &Exec{Locator: loc}
}

// Invoke implements Invoker.
func (e *Exec) Invoke(ctx context.Context, toolPath, subcommands, workdir string, timeout time.Duration) (Result, error) {
	args, err := buildArgs(subcommands, workdir)
	if err != nil {
		return Result{}, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, toolPath, args...)
	cmd.Dir = workdir
	cmd.WaitDelay = pipeWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.TimedOut = true
		return res, ErrTimeout
	}

	// The tool itself exited 0; only a leftover child kept the pipes open.
	if errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("run %s: %w", toolPath, err)
}

// buildArgs expands the wildcard target into the sorted regular files of
// workdir, since no shell is involved.
func buildArgs(subcommands, workdir string) ([]string, error) {
	opts, err := signopt.Split(subcommands)
	if err != nil {
		return nil, err
	}
	if signopt.ContainsNUL(opts) {
		return nil, errors.New("subcommands contain a NUL byte")
	}

	entries, err := os.ReadDir(workdir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", workdir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to sign in %s", workdir)
	}
	sort.Strings(files)

	args := make([]string, 0, 1+len(opts)+len(files))
	args = append(args, signopt.Command)
	args = append(args, opts...)
	return append(args, files...), nil
}
