// Package cmd implements the CLI commands for signrelay.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xdg/signrelay/internal/signopt"
	"github.com/xdg/signrelay/internal/term"
	"github.com/xdg/signrelay/internal/version"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "signrelay",
	Short: "Remote code-signing relay",
	Long: `signrelay runs signtool on a remote signing host without exposing the
certificate or its credentials to the machine that builds the files.

On the build machine, "signrelay sign <options> <files>" checks which signtool
options may be forwarded, packages the matching files, sends them to the signing
host and writes the signed files back over the originals.

On the signing host, "signrelay serve" accepts those requests and runs signtool.`,
	Version:       version.Version,
	Args:          cobra.ArbitraryArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	FParseErrWhitelist: cobra.FParseErrWhitelist{
		UnknownFlags: true,
	},
	RunE: runRoot,
}

// runRoot handles invocations that do not name a known subcommand. They
// are classified like a sign request so the exit code reports why they
// were refused.
func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		_ = cmd.Usage()
		return exitError(signopt.ErrNoArguments)
	}
	return runClient(cmd, clientFlags{}, args)
}

// Execute runs the root command, prints any error and returns it.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var exitErr *ExitCodeError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			term.Error("%v", err)
		}
	}
	return err
}
