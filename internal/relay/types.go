// Package relay implements the HTTP protocol between the signing client
// and the signing host: wire types, the API client, server-side archive
// storage and the transfer server itself.
package relay

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// Routes served by the transfer server.
const (
	RouteUpload   = "/api/upload/save"
	RouteSign     = "/api/signtool/sign"
	RouteDownload = "/api/upload/download/"
	RouteRemove   = "/api/upload/remove"
	RouteMetrics  = "/metrics"
)

// UploadField is the multipart form field carrying archive files.
const UploadField = "files"

// SignedSuffix is appended to a request archive's base name to form the
// result archive name.
const SignedSuffix = "-signed"

var (
	// ErrServerCommunication covers transport failures, unexpected status
	// codes and undecodable responses.
	ErrServerCommunication = errors.New("server communication failed")

	// ErrNotFound means the named archive is not in storage.
	ErrNotFound = errors.New("archive not found")
)

// SignRequest asks the server to sign every file in an uploaded archive.
type SignRequest struct {
	ArchiveName string `json:"archiveName"`
	Subcommands string `json:"subcommands"`
}

// SignResult reports a signing tool run. DownloadURL is set iff
// ExitCode is 0.
type SignResult struct {
	ExitCode       int    `json:"exitCode"`
	StandardOutput string `json:"standardOutput"`
	StandardError  string `json:"standardError"`
	DownloadURL    string `json:"downloadUrl,omitempty"`
}

// UploadResult is the response to a store call.
type UploadResult struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
	Error   string   `json:"error,omitempty"`
}

// RemoveResult is the response to a remove call. Removed lists the names
// that existed and were deleted.
type RemoveResult struct {
	Success bool     `json:"success"`
	Removed []string `json:"removed"`
}

// ErrorResponse is the body of non-2xx JSON responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SignedName returns the result archive name for a request archive:
// "3f2a.zip" becomes "3f2a-signed.zip".
func SignedName(archiveName string) string {
	ext := filepath.Ext(archiveName)
	return strings.TrimSuffix(archiveName, ext) + SignedSuffix + ext
}

// StatusError is returned when the server answers with an unexpected
// status code.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: server returned %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return ErrServerCommunication
}

// Is reports a 404 as ErrNotFound in addition to ErrServerCommunication.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
