package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xdg/signrelay/internal/version"
)

// maxErrorBody bounds how much of a failed response is kept for errors.
const maxErrorBody = 4096

// Client talks to a transfer server.
type Client struct {
	// BaseURL is the server base URL (e.g., "http://signhost:5000").
	BaseURL string

	// HTTPClient is the HTTP client used for requests.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL whose calls each time out after
// timeout (0 means no limit).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// do sends req and checks the status. The caller must close the returned
// body.
func (c *Client) do(op string, req *http.Request, acceptedStatuses ...int) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServerCommunication, err)
	}

	for _, accepted := range acceptedStatuses {
		if resp.StatusCode == accepted {
			return resp, nil
		}
	}
	defer func() { _ = resp.Body.Close() }()
	return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
}

// readErrorBody extracts a message from a failed response, preferring the
// error field of a JSON body.
func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(data))
}

// doJSON sends body as JSON to path and decodes the response into result.
func (c *Client) doJSON(ctx context.Context, op, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrServerCommunication, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(op, req, http.StatusOK)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s: %w: decode response: %w", op, ErrServerCommunication, err)
	}
	return nil
}

// Upload sends the file at path to the store operation under its base name.
// The body is streamed, so the archive is never held in memory.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResult, error) {
	const op = "upload"

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(UploadField, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+RouteUpload, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServerCommunication, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(op, req, http.StatusOK)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s: %w: decode response: %w", op, ErrServerCommunication, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%s: %w: server reported failure: %s", op, ErrServerCommunication, result.Error)
	}
	return &result, nil
}

// Sign asks the server to run the signing tool over an uploaded archive.
func (c *Client) Sign(ctx context.Context, sr SignRequest) (*SignResult, error) {
	var result SignResult
	if err := c.doJSON(ctx, "sign", RouteSign, sr, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Download streams the archive at rawURL into w and returns the number of
// bytes written. A relative URL is resolved against BaseURL.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	const op = "download"

	target, err := c.resolve(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrServerCommunication, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrServerCommunication, err)
	}

	resp, err := c.do(op, req, http.StatusOK)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%s: %w: %w", op, ErrServerCommunication, err)
	}
	return n, nil
}

// Remove asks the server to delete the named archives. Names that do not
// exist are not an error.
func (c *Client) Remove(ctx context.Context, names []string) (*RemoveResult, error) {
	var result RemoveResult
	if err := c.doJSON(ctx, "remove", RouteRemove, names, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) resolve(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("empty download URL")
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse download URL: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.BaseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
