// Package signtool finds and runs the code-signing executable on the
// signing host.
package signtool

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no signing tool was found in any known location.
	ErrNotFound = errors.New("signing tool not found")
	// ErrTimeout means the tool was killed after exceeding its timeout.
	ErrTimeout = errors.New("signing tool timed out")
)

// Result is the outcome of one signing tool run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Invoker locates and runs the signing tool. The relay server depends on
// this interface so handlers can be tested without a real executable.
type Invoker interface {
	// Locate returns the path of the signing tool.
	Locate() (string, error)

	// Invoke runs `<toolPath> sign <subcommands> <every file in workdir>`
	// with workdir as the working directory, killing it after timeout.
	// A nonzero exit is reported in Result, not as an error.
	Invoke(ctx context.Context, toolPath, subcommands, workdir string, timeout time.Duration) (Result, error)
}
