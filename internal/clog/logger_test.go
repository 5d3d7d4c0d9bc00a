package clog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"err", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger()
	l.SetFileOutput(&buf)
	l.SetErrOutput(nil)
	l.SetLevel(LevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error %d", 7)

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("debug/info should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] warn message") {
		t.Errorf("missing warn line, got: %s", out)
	}
	if !strings.Contains(out, "[ERROR] error 7") {
		t.Errorf("missing error line, got: %s", out)
	}
}

func TestLogger_TimestampFormat(t *testing.T) {
	var buf bytes.Buffer
	l := TestLogger(&buf)
	l.now = func() time.Time { return time.Date(2024, 1, 15, 14, 32, 5, 0, time.UTC) }

	l.Info("uploaded %s", "a.zip")

	want := "2024-01-15T14:32:05Z [INFO] uploaded a.zip\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestLogger_DaemonMode(t *testing.T) {
	var fileBuf, errBuf bytes.Buffer
	l := NewLogger()
	l.SetFileOutput(&fileBuf)
	l.SetErrOutput(&errBuf)

	l.Warn("cli warning")
	l.Info("cli info")
	if !strings.Contains(errBuf.String(), "[WARN] cli warning") {
		t.Errorf("warning should reach stderr in CLI mode, got: %s", errBuf.String())
	}
	if strings.Contains(errBuf.String(), "cli info") {
		t.Errorf("info should not reach stderr, got: %s", errBuf.String())
	}

	errBuf.Reset()
	l.SetDaemonMode(true)
	l.Error("daemon error")
	if errBuf.Len() != 0 {
		t.Errorf("stderr should be silent in daemon mode, got: %s", errBuf.String())
	}
	if !strings.Contains(fileBuf.String(), "[ERROR] daemon error") {
		t.Errorf("file should receive daemon error, got: %s", fileBuf.String())
	}
}

func TestLogger_Block(t *testing.T) {
	var buf bytes.Buffer
	l := TestLogger(&buf)

	l.Block(LevelError, "stderr", "SignTool Error: No certificates were found.\r\nNumber of errors: 1\n")
	l.Block(LevelInfo, "stdout", "")

	out := buf.String()
	for _, want := range []string{
		"[ERROR] stderr: SignTool Error: No certificates were found.\n",
		"[ERROR] stderr: Number of errors: 1\n",
		"[INFO] stdout: (empty)\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\ngot: %s", want, out)
		}
	}
}

func TestConfigure_WritesFile(t *testing.T) {
	old := ReplaceGlobal(NewLogger())
	t.Cleanup(func() { ReplaceGlobal(old) })

	path := filepath.Join(t.TempDir(), "logs", "signrelay.log")
	if err := Configure(path, LevelDebug, true); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	Debug("hello %s", "file")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[DEBUG] hello file") {
		t.Errorf("log file missing debug line, got: %s", data)
	}
}
