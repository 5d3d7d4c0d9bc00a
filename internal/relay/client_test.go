package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdg/signrelay/internal/version"
)

func TestSignedName(t *testing.T) {
	require.Equal(t, "3f2a-signed.zip", SignedName("3f2a.zip"))
	require.Equal(t, "bundle-signed", SignedName("bundle"))
	require.Equal(t, "a.b-signed.zip", SignedName("a.b.zip"))
}

func TestStatusError(t *testing.T) {
	err := error(&StatusError{Op: "sign", StatusCode: http.StatusBadGateway, Body: "upstream down"})
	require.Equal(t, "sign: server returned 502 Bad Gateway: upstream down", err.Error())
	require.ErrorIs(t, err, ErrServerCommunication)
	require.False(t, errors.Is(err, ErrNotFound))

	notFound := error(&StatusError{Op: "download", StatusCode: http.StatusNotFound})
	require.ErrorIs(t, notFound, ErrNotFound)
	require.Equal(t, "download: server returned 404 Not Found", notFound.Error())
}

func TestClient_UploadStreamsMultipart(t *testing.T) {
	var gotAgent, gotName, gotContent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		f, hdr, err := r.FormFile(UploadField)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = f.Close() }()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(f)
		gotName, gotContent = hdr.Filename, buf.String()
		_ = json.NewEncoder(w).Encode(UploadResult{Success: true, Files: []string{hdr.Filename}})
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "abc.zip")
	require.NoError(t, os.WriteFile(path, []byte("zipdata"), 0o600))

	res, err := NewClient(ts.URL+"/", time.Second).Upload(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, []string{"abc.zip"}, res.Files)
	require.Equal(t, "abc.zip", gotName)
	require.Equal(t, "zipdata", gotContent)
	require.Equal(t, version.UserAgent(), gotAgent)
}

func TestClient_UploadFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.zip")
	require.NoError(t, os.WriteFile(path, []byte("zipdata"), 0o600))

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"success false", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(UploadResult{Error: "disk full"})
		}},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()
			_, err := NewClient(ts.URL, time.Second).Upload(context.Background(), path)
			require.ErrorIs(t, err, ErrServerCommunication)
		})
	}
}

func TestClient_UploadMissingFile(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", time.Second).Upload(context.Background(), filepath.Join(t.TempDir(), "nope.zip"))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrServerCommunication))
}

func TestClient_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, time.Second).Sign(context.Background(), SignRequest{ArchiveName: "a.zip"})
	require.ErrorIs(t, err, ErrServerCommunication)
}

func TestClient_SignDecodeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).Sign(context.Background(), SignRequest{ArchiveName: "a.zip"})
	require.ErrorIs(t, err, ErrServerCommunication)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_DownloadResolvesRelativeURL(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("signed-bytes"))
	}))
	defer ts.Close()

	var buf bytes.Buffer
	n, err := NewClient(ts.URL, time.Second).Download(context.Background(), "/api/upload/download/x-signed.zip", &buf)
	require.NoError(t, err)
	require.EqualValues(t, len("signed-bytes"), n)
	require.Equal(t, "signed-bytes", buf.String())
	require.Equal(t, "/api/upload/download/x-signed.zip", gotPath)

	_, err = NewClient(ts.URL, time.Second).Download(context.Background(), "", &buf)
	require.ErrorIs(t, err, ErrServerCommunication)
}

func TestClient_ErrorBodyPrefersJSONField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "schema validation failed"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).Remove(context.Background(), []string{"a"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "schema validation failed", se.Body)

	ts2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, strings.Repeat("x", 10*maxErrorBody), http.StatusBadGateway)
	}))
	defer ts2.Close()

	_, err = NewClient(ts2.URL, time.Second).Remove(context.Background(), []string{"a"})
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Body, maxErrorBody)
}
