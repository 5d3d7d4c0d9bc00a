package cmd

import (
	"errors"
	"fmt"

	"github.com/xdg/signrelay/internal/fileset"
	"github.com/xdg/signrelay/internal/relay"
	"github.com/xdg/signrelay/internal/signopt"
	"github.com/xdg/signrelay/internal/submit"
)

// Process exit codes. Each failure category has its own stable code.
const (
	ExitOK                      = 0
	ExitGeneric                 = 1
	ExitNoArguments             = 2
	ExitUnsupportedCommand      = 3
	ExitUnsupportedSubcommand   = 4
	ExitUnknownSubcommand       = 5
	ExitMissingOptionValue      = 6
	ExitDuplicateFileName       = 7
	ExitNoFilesMatched          = 8
	ExitServerAddressUnset      = 9
	ExitServerCommunication     = 10
	ExitSignToolInvalidExitCode = 11
	ExitLocalIO                 = 12
)

// errServerUnset is returned when sign runs without client.server.
var errServerUnset = errors.New("signing server address is not configured")

// ExitCodeError carries the process exit code for a failed command.
type ExitCodeError struct {
	Code int
	Err  error
}

// NewExitCodeError returns an ExitCodeError with no underlying error.
func NewExitCodeError(code int) *ExitCodeError {
	return &ExitCodeError{Code: code}
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// exitCodes maps sentinel errors to exit codes, checked in order.
var exitCodes = []struct {
	err  error
	code int
}{
	{signopt.ErrNoArguments, ExitNoArguments},
	{signopt.ErrUnsupportedCommand, ExitUnsupportedCommand},
	{signopt.ErrUnsupportedSubcommand, ExitUnsupportedSubcommand},
	{signopt.ErrUnknownSubcommand, ExitUnknownSubcommand},
	{signopt.ErrMissingOptionValue, ExitMissingOptionValue},
	{fileset.ErrDuplicateFileName, ExitDuplicateFileName},
	{fileset.ErrNoFiles, ExitNoFilesMatched},
	{errServerUnset, ExitServerAddressUnset},
	{submit.ErrSignToolExit, ExitSignToolInvalidExitCode},
	{submit.ErrLocalIO, ExitLocalIO},
	{relay.ErrServerCommunication, ExitServerCommunication},
}

// exitCodeFor returns the exit code for err.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, ec := range exitCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ExitGeneric
}

// exitError wraps err with its exit code. A nil err stays nil.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitCodeError{Code: exitCodeFor(err), Err: err}
}
