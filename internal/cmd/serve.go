package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xdg/signrelay/internal/audit"
	"github.com/xdg/signrelay/internal/clog"
	"github.com/xdg/signrelay/internal/config"
	"github.com/xdg/signrelay/internal/metrics"
	"github.com/xdg/signrelay/internal/relay"
	"github.com/xdg/signrelay/internal/signtool"
	"github.com/xdg/signrelay/internal/term"
)

var (
	serveListen string
	serveConfig string
	serveDebug  bool
	serveDaemon bool
)

// errListenUnset is returned when serve has no listen address.
var errListenUnset = errors.New("listen address is not configured")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signing host server",
	Long: `Run the transfer server on the signing host.

The server accepts uploaded archives, runs signtool over their contents and
serves the signed result for download. Archives are kept only until the client
removes them; abandoned ones are swept after server.storage_max_age.

The listen address comes from --listen, SIGNRELAY_LISTEN or server.listen.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (host:port or :port)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Config file path (default "+config.Path()+")")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Log at debug level")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "Log to the log file only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveConfig)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if cfg.Server.Listen == "" {
		return fmt.Errorf("%w (use --listen, %s or server.listen)", errListenUnset, config.ListenEnvVar)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := setupLogging(cfg, serveDebug, serveDaemon); err != nil {
		term.Warn("%v", err)
	}
	defer func() { _ = clog.Close() }()

	srv, closeAudit, err := newRelayServer(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	if err := srv.Start(); err != nil {
		return err
	}
	term.Printf("signrelay %s listening on %s\n", rootCmd.Version, srv.ListenAddr())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	clog.Debug("shutting down transfer server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}

	clog.Debug("transfer server stopped")
	return nil
}

// newRelayServer builds the transfer server described by cfg. The
// returned func closes the audit log.
func newRelayServer(cfg *config.Config) (*relay.Server, func(), error) {
	storage, err := relay.NewStorage(cfg.Server.StorageDir)
	if err != nil {
		return nil, nil, err
	}

	invoker := signtool.NewExec(signtool.Locator{
		Path:        cfg.SignTool.Path,
		Candidates:  cfg.SignTool.Candidates,
		VersionRoot: cfg.SignTool.VersionRoot,
		Arch:        cfg.SignTool.Arch,
	})
	if tool, err := invoker.Locate(); err != nil {
		clog.Warn("%v; sign requests will fail until it is installed", err)
	} else {
		clog.Info("using signing tool %s", tool)
	}

	srv := relay.NewServer(cfg.Server.Listen, storage, invoker)
	srv.PublicURL = cfg.Server.PublicURL
	srv.SignTimeout = cfg.SignTimeout()
	srv.MaxUploadBytes = cfg.Server.MaxUploadBytes
	srv.MaxConcurrentSigns = int64(cfg.Server.MaxConcurrentSigns)
	srv.RateLimit = float64(cfg.Server.RateLimit)
	srv.RateBurst = cfg.Server.RateBurst
	srv.KeepWorkDirs = cfg.Server.KeepWorkDirs
	srv.StorageMaxAge = cfg.StorageMaxAge()
	srv.SweepInterval = cfg.SweepInterval()
	if cfg.MetricsEnabled() {
		srv.Metrics = metrics.NewProm(metrics.Namespace)
		srv.MetricsHandler = metrics.Handler()
	}

	closeAudit := func() {}
	if cfg.Log.AuditFile != "" {
		f, err := clog.OpenLogFile(cfg.Log.AuditFile)
		if err != nil {
			clog.Warn("audit logging disabled: %v", err)
		} else {
			srv.AuditLogger = audit.NewLogger(f)
			closeAudit = func() { _ = f.Close() }
		}
	}
	return srv, closeAudit, nil
}
