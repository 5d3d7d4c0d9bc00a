package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xdg/signrelay/internal/clog"
	"github.com/xdg/signrelay/internal/config"
	"github.com/xdg/signrelay/internal/fileset"
	"github.com/xdg/signrelay/internal/relay"
	"github.com/xdg/signrelay/internal/signopt"
	"github.com/xdg/signrelay/internal/submit"
	"github.com/xdg/signrelay/internal/term"
)

// SilentEnvVar suppresses normal output when set to a non-empty value.
const SilentEnvVar = "SIGNRELAY_SILENT"

var signCmd = &cobra.Command{
	Use:   "sign [--silent] [--debug] [--config path] <options> <file-or-pattern>...",
	Short: "Sign local files on the remote signing host",
	Long: `Sign local files with signtool on the remote signing host.

The arguments are those of "signtool sign". Options are checked against a fixed
catalog: options that refer to local certificate files or secrets are refused,
unknown options are refused, and the rest are forwarded unchanged. Every other
argument is a file name or a wildcard pattern such as build\*.dll.

Files from different patterns must have distinct base names. The signed copies
overwrite the originals only when signtool exits with code 0.

signrelay's own flags must come before the signtool options.`,
	DisableFlagParsing: true,
	RunE:               runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)
}

// clientFlags are signrelay's own flags, accepted before the signtool
// arguments since flag parsing is disabled for sign.
type clientFlags struct {
	configPath string
	silent     bool
	debug      bool
	help       bool
}

// parseClientFlags consumes leading signrelay flags. Signtool options use
// the "/" prefix, so any leading "-" token belongs to signrelay.
func parseClientFlags(args []string) (clientFlags, []string, error) {
	var f clientFlags
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "-h" || arg == "--help":
			f.help = true
		case arg == "--silent":
			f.silent = true
		case arg == "--debug":
			f.debug = true
		case arg == "--config":
			if len(args) < 2 {
				return f, nil, fmt.Errorf("flag --config needs a value")
			}
			f.configPath = args[1]
			args = args[1:]
		case strings.HasPrefix(arg, "--config="):
			f.configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--":
			return f, args[1:], nil
		default:
			return f, args, nil
		}
		args = args[1:]
	}
	return f, args, nil
}

func runSign(cmd *cobra.Command, args []string) error {
	flags, rest, err := parseClientFlags(args)
	if err != nil {
		return &ExitCodeError{Code: ExitGeneric, Err: err}
	}
	if flags.help {
		printSignHelp(cmd)
		return nil
	}
	return runClient(cmd, flags, append([]string{signopt.Command}, rest...))
}

// runClient performs one signing request for tokens, where tokens[0] is
// the command name.
func runClient(cmd *cobra.Command, flags clientFlags, tokens []string) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return &ExitCodeError{Code: ExitGeneric, Err: err}
	}
	if err := setupLogging(cfg, flags.debug, false); err != nil {
		term.Warn("%v", err)
	}
	defer func() { _ = clog.Close() }()
	if flags.silent || os.Getenv(SilentEnvVar) != "" {
		term.SetSilent(true)
	}

	res, err := signFiles(cmd.Context(), cfg, tokens)
	if res != nil && res.ExitCode == 0 {
		term.Passthrough(res.StandardOutput)
	}
	return exitError(err)
}

// signFiles runs classification, resolution and the transfer protocol.
// Input errors are detected before any network call.
func signFiles(ctx context.Context, cfg *config.Config, tokens []string) (*relay.SignResult, error) {
	req, err := signopt.Classify(tokens)
	if err != nil {
		clog.Error("%v", err)
		return nil, err
	}
	clog.Debug("forwarding %q, patterns %q", req.Forwarded, req.Patterns)

	files, err := fileset.Resolve(req.Patterns)
	if err != nil {
		clog.Error("%v", err)
		return nil, err
	}

	if cfg.Client.Server == "" {
		return nil, fmt.Errorf("%w (set client.server in %s or %s)", errServerUnset, config.Path(), config.ServerEnvVar)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	driver := &submit.Driver{
		API:     relay.NewClient(cfg.Client.Server, cfg.ClientTimeout()),
		TempDir: cfg.Client.TempDir,
	}
	clog.Info("signing %d file(s) via %s", files.Len(), cfg.Client.Server)
	res, err := driver.Run(ctx, req, files)
	if err != nil {
		clog.Error("sign failed: %v", err)
		return res, err
	}
	clog.Info("signed %s", strings.Join(files.Names(), ", "))
	return res, nil
}

func printSignHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, cmd.Long)
	_, _ = fmt.Fprintf(out, "\nUsage:\n  %s\n", cmd.UseLine())
	_, _ = fmt.Fprintf(out, "\nForwarded options:\n  %s\n", wrapNames(signopt.Forwardable()))
	_, _ = fmt.Fprintf(out, "\nRefused options:\n  %s\n", wrapNames(signopt.Rejected()))
}

// wrapNames joins option names into lines of at most ten.
func wrapNames(names []string) string {
	var lines []string
	for len(names) > 10 {
		lines = append(lines, strings.Join(names[:10], " "))
		names = names[10:]
	}
	lines = append(lines, strings.Join(names, " "))
	return strings.Join(lines, "\n  ")
}

// loadConfig loads the config file at path, or the default location.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// setupLogging configures the global logger from cfg. debug forces the
// debug level.
func setupLogging(cfg *config.Config, debug, daemon bool) error {
	level, err := clog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = clog.LevelInfo
	}
	if debug {
		level = clog.LevelDebug
	}
	if err := clog.Configure(cfg.Log.File, level, daemon); err != nil {
		clog.SetLevel(level)
		return fmt.Errorf("logging to %s disabled: %w", cfg.Log.File, err)
	}
	return nil
}
