package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xdg/signrelay/internal/archive"
	"github.com/xdg/signrelay/internal/audit"
	"github.com/xdg/signrelay/internal/clog"
	"github.com/xdg/signrelay/internal/metrics"
	"github.com/xdg/signrelay/internal/signtool"
)

// Defaults applied by NewServer.
const (
	DefaultMaxUploadBytes     = 1 << 30
	DefaultSignTimeout        = 5 * time.Minute
	DefaultMaxConcurrentSigns = 1
	DefaultRateBurst          = 10
)

// maxJSONBody bounds sign and remove request bodies.
const maxJSONBody = 1 << 20

// timeoutNote is appended to the captured stderr when the tool is killed.
const timeoutNote = "signing tool timed out after %s and was terminated"

// Server is the transfer server. Handlers share only the storage
// directory, the sign semaphore and the rate limiter; per-request state
// lives in uniquely named files and directories.
type Server struct {
	// Addr is the address to listen on (e.g., ":5000").
	Addr string

	// Storage holds uploaded and signed archives.
	Storage *Storage

	// Invoker locates and runs the signing tool.
	Invoker signtool.Invoker

	// PublicURL is the base of returned download URLs. If empty, it is
	// derived from the request's Host header.
	PublicURL string

	SignTimeout    time.Duration
	MaxUploadBytes int64

	// MaxConcurrentSigns bounds simultaneous tool runs (0 means 1).
	MaxConcurrentSigns int64

	// RateLimit is the allowed API requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int

	// KeepWorkDirs leaves working directories in place for inspection.
	KeepWorkDirs bool

	// StorageMaxAge and SweepInterval drive the janitor that removes
	// abandoned archives. Either being zero disables it.
	StorageMaxAge time.Duration
	SweepInterval time.Duration

	// MetricsHandler, if set, is served at /metrics.
	MetricsHandler http.Handler

	// AuditLogger logs relay events. If nil, no audit logging is performed.
	AuditLogger *audit.Logger

	// Metrics records request and sign statistics. If nil, metrics.Noop is used.
	Metrics metrics.Metrics

	setup   sync.Once
	limiter *rate.Limiter
	signs   *semaphore.Weighted

	server      *http.Server
	listener    net.Listener
	mu          sync.Mutex
	running     bool
	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// NewServer creates a transfer server with default limits.
func NewServer(addr string, storage *Storage, invoker signtool.Invoker) *Server {
	return &Server{
		Addr:               addr,
		Storage:            storage,
		Invoker:            invoker,
		SignTimeout:        DefaultSignTimeout,
		MaxUploadBytes:     DefaultMaxUploadBytes,
		MaxConcurrentSigns: DefaultMaxConcurrentSigns,
		RateBurst:          DefaultRateBurst,
	}
}

func (s *Server) init() {
	s.setup.Do(func() {
		if s.Metrics == nil {
			s.Metrics = metrics.Noop{}
		}
		n := s.MaxConcurrentSigns
		if n <= 0 {
			n = 1
		}
		s.signs = semaphore.NewWeighted(n)
		if s.RateLimit > 0 {
			burst := s.RateBurst
			if burst <= 0 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(s.RateLimit), burst)
		}
	})
}

// Handler returns the server's routes wrapped in rate limiting and
// instrumentation.
func (s *Server) Handler() http.Handler {
	s.init()

	mux := http.NewServeMux()
	mux.Handle("POST "+RouteUpload, s.instrument(RouteUpload, s.handleUpload))
	mux.Handle("POST "+RouteSign, s.instrument(RouteSign, s.handleSign))
	mux.Handle("GET "+RouteDownload+"{name}", s.instrument(RouteDownload+"{name}", s.handleDownload))
	mux.Handle("POST "+RouteRemove, s.instrument(RouteRemove, s.handleRemove))
	if s.MetricsHandler != nil {
		mux.Handle("GET "+RouteMetrics, s.MetricsHandler)
	}
	return s.rateLimit(mux)
}

// Start begins accepting connections and starts the storage janitor.
// Returns an error if the server is already running or fails to start.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("transfer server already running")
	}

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.Error("transfer server stopped: %v", err)
		}
	}()

	if s.SweepInterval > 0 && s.StorageMaxAge > 0 {
		s.stopJanitor = make(chan struct{})
		s.janitorDone = make(chan struct{})
		go s.janitor(s.stopJanitor, s.janitorDone)
	}

	clog.Info("transfer server listening on %s (storage %s)", listener.Addr(), s.Storage.Dir)
	return nil
}

// Stop gracefully shuts down the server and the janitor.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.stopJanitor != nil {
		close(s.stopJanitor)
		<-s.janitorDone
		s.stopJanitor = nil
	}
	return s.server.Shutdown(ctx)
}

// ListenAddr returns the actual address the server is listening on.
// Returns empty string if the server is not running.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) janitor(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			removed, err := s.Storage.Sweep(s.StorageMaxAge, now)
			for _, p := range removed {
				clog.Info("janitor removed stale %s", p)
			}
			if err != nil {
				clog.Warn("janitor sweep: %v", err)
			}
		}
	}
}

// rateLimit rejects API requests beyond the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow() {
			s.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.Metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

// handleUpload stores every file part of the multipart body under its
// declared name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, UploadResult{Error: "expected a multipart/form-data body"})
		return
	}

	saved := []string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeJSON(w, uploadErrorStatus(err), UploadResult{Files: saved, Error: "read upload: " + err.Error()})
			return
		}

		name := part.FileName()
		if part.FormName() != UploadField || name == "" {
			_ = part.Close()
			continue
		}
		if !ValidName(name) {
			_ = part.Close()
			s.writeJSON(w, http.StatusBadRequest, UploadResult{Files: saved, Error: fmt.Sprintf("invalid file name %q", name)})
			return
		}

		n, err := s.Storage.Save(name, part)
		_ = part.Close()
		if err != nil {
			clog.Warn("upload %s from %s failed: %v", name, r.RemoteAddr, err)
			status := uploadErrorStatus(err)
			if status == http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
			s.writeJSON(w, status, UploadResult{Files: saved, Error: err.Error()})
			return
		}

		clog.Info("stored %s (%s) from %s", name, humanize.Bytes(uint64(n)), r.RemoteAddr)
		_ = s.AuditLogger.LogUpload(r.RemoteAddr, name, n)
		s.Metrics.AddTransferBytes("upload", n)
		saved = append(saved, name)
	}

	if len(saved) == 0 {
		s.writeJSON(w, http.StatusBadRequest, UploadResult{Files: saved, Error: "no file payload in field " + strconv.Quote(UploadField)})
		return
	}
	s.writeJSON(w, http.StatusOK, UploadResult{Success: true, Files: saved})
}

func uploadErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// handleSign extracts a stored archive into a fresh working directory,
// runs the signing tool over it and, on success, stores the signed
// result as <base>-signed.zip.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})
		return
	}
	req, err := decodeSignRequest(data)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !ValidName(req.ArchiveName) {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid archive name %q", req.ArchiveName)})
		return
	}

	remote := r.RemoteAddr
	_ = s.AuditLogger.LogSignRequest(remote, req.ArchiveName, req.Subcommands)

	if !s.Storage.Exists(req.ArchiveName) {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "archive not found: " + req.ArchiveName})
		return
	}

	workdir, err := s.Storage.NewWorkDir()
	if err != nil {
		s.signFailed(w, remote, req.ArchiveName, http.StatusInternalServerError, err)
		return
	}
	if !s.KeepWorkDirs {
		defer func() {
			if err := os.RemoveAll(workdir); err != nil {
				clog.Warn("remove work dir %s: %v", workdir, err)
			}
		}()
	}

	names, err := archive.UnpackFile(s.Storage.Path(req.ArchiveName), workdir)
	if err != nil {
		s.signFailed(w, remote, req.ArchiveName, http.StatusBadRequest, fmt.Errorf("extract archive: %w", err))
		return
	}
	clog.Debug("extracted %d file(s) from %s into %s", len(names), req.ArchiveName, workdir)

	if err := s.signs.Acquire(r.Context(), 1); err != nil {
		s.signFailed(w, remote, req.ArchiveName, http.StatusServiceUnavailable, fmt.Errorf("wait for signing slot: %w", err))
		return
	}
	result := s.runTool(r.Context(), remote, req, workdir)
	s.signs.Release(1)

	if result.ExitCode == 0 {
		resultName := SignedName(req.ArchiveName)
		if err := s.storeResult(resultName, workdir); err != nil {
			s.signFailed(w, remote, req.ArchiveName, http.StatusInternalServerError, err)
			return
		}
		result.DownloadURL = s.publicBase(r) + RouteDownload + url.PathEscape(resultName)
		clog.Info("signed %s, result %s", req.ArchiveName, resultName)
	}
	s.writeJSON(w, http.StatusOK, result)
}

// runTool locates and runs the signing tool. Every outcome, including a
// missing tool or a timeout, is reported as a SignResult.
func (s *Server) runTool(ctx context.Context, remote string, req *SignRequest, workdir string) SignResult {
	toolPath, err := s.Invoker.Locate()
	if err != nil {
		clog.Error("sign %s: %v", req.ArchiveName, err)
		_ = s.AuditLogger.LogSignError(remote, req.ArchiveName, err.Error())
		s.Metrics.IncSign(metrics.OutcomeNotFound)
		return SignResult{ExitCode: -1, StandardError: fmt.Sprintf("signing tool not found on the signing host: %v", err)}
	}

	start := time.Now()
	res, err := s.Invoker.Invoke(ctx, toolPath, req.Subcommands, workdir, s.SignTimeout)
	elapsed := time.Since(start)
	s.Metrics.ObserveSignDuration(elapsed.Seconds())

	result := SignResult{ExitCode: res.ExitCode, StandardOutput: res.Stdout, StandardError: res.Stderr}
	switch {
	case errors.Is(err, signtool.ErrTimeout):
		clog.Error("sign %s: tool timed out after %s", req.ArchiveName, elapsed.Round(time.Millisecond))
		_ = s.AuditLogger.LogSignTimeout(remote, req.ArchiveName, elapsed)
		s.Metrics.IncSign(metrics.OutcomeTimeout)
		result.ExitCode = -1
		result.StandardError = appendLine(result.StandardError, fmt.Sprintf(timeoutNote, s.SignTimeout))
	case err != nil:
		clog.Error("sign %s: %v", req.ArchiveName, err)
		_ = s.AuditLogger.LogSignError(remote, req.ArchiveName, err.Error())
		s.Metrics.IncSign(metrics.OutcomeError)
		result.ExitCode = -1
		result.StandardError = appendLine(result.StandardError, err.Error())
	default:
		_ = s.AuditLogger.LogSignComplete(remote, req.ArchiveName, res.ExitCode, elapsed)
		if res.ExitCode == 0 {
			s.Metrics.IncSign(metrics.OutcomeSigned)
		} else {
			clog.Warn("sign %s: tool exited %d", req.ArchiveName, res.ExitCode)
			s.Metrics.IncSign(metrics.OutcomeFailed)
		}
	}
	return result
}

// storeResult packs every file left in workdir and stores it as name.
func (s *Server) storeResult(name, workdir string) error {
	tmp := workdir + archive.Ext
	if err := archive.PackDir(tmp, workdir); err != nil {
		return fmt.Errorf("package signed files: %w", err)
	}
	if err := s.Storage.Adopt(name, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Server) signFailed(w http.ResponseWriter, remote, archiveName string, status int, err error) {
	clog.Error("sign %s: %v", archiveName, err)
	_ = s.AuditLogger.LogSignError(remote, archiveName, err.Error())
	s.Metrics.IncSign(metrics.OutcomeError)
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) publicBase(r *http.Request) string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// handleDownload streams a stored archive.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f, err := s.Storage.Open(name)
	if errors.Is(err, ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "archive not found: " + name})
		return
	}
	if err != nil {
		clog.Error("open %s: %v", name, err)
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "open archive"})
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		clog.Warn("download %s to %s interrupted after %s: %v", name, r.RemoteAddr, humanize.Bytes(uint64(n)), err)
		return
	}
	clog.Info("served %s (%s) to %s", name, humanize.Bytes(uint64(n)), r.RemoteAddr)
	_ = s.AuditLogger.LogDownload(r.RemoteAddr, name, n)
	s.Metrics.AddTransferBytes("download", n)
}

// handleRemove deletes each named archive that exists. Missing and
// invalid names are skipped; a well-formed request always succeeds.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})
		return
	}
	names, err := decodeRemoveRequest(data)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	removed := []string{}
	for _, name := range names {
		ok, err := s.Storage.Remove(name)
		if err != nil {
			clog.Warn("remove %s: %v", name, err)
			continue
		}
		if ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		clog.Info("removed %s for %s", strings.Join(removed, ", "), r.RemoteAddr)
	}
	_ = s.AuditLogger.LogRemove(r.RemoteAddr, removed)
	s.writeJSON(w, http.StatusOK, RemoveResult{Success: true, Removed: removed})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func appendLine(text, line string) string {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + line
}
