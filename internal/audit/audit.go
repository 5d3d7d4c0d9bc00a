// Package audit writes an append-only trail of relay server events.
// Each entry is one line of key=value pairs suitable for grep and awk.
package audit

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventType names a relay operation outcome.
type EventType string

// Event types.
const (
	EventUpload       EventType = "UPLOAD"
	EventSignRequest  EventType = "SIGN_REQUEST"
	EventSignComplete EventType = "SIGN_COMPLETE"
	EventSignTimeout  EventType = "SIGN_TIMEOUT"
	EventSignError    EventType = "SIGN_ERROR"
	EventDownload     EventType = "DOWNLOAD"
	EventRemove       EventType = "REMOVE"
)

// Event is one audit log entry.
type Event struct {
	Timestamp time.Time
	Type      EventType

	// Remote is the client address as seen by the server.
	Remote string

	// Archive is the archive the event concerns. For REMOVE it is a
	// comma-separated list of the names actually deleted.
	Archive string

	// Subcommands is the forwarded option string (SIGN_REQUEST).
	Subcommands string

	// Size is the byte count written or served (UPLOAD, DOWNLOAD).
	Size int64

	// ExitCode and Duration describe a finished tool run (SIGN_COMPLETE).
	ExitCode int
	Duration time.Duration

	// Reason explains a SIGN_ERROR.
	Reason string
}

// Format returns the log line for e.
// Format: 2024-01-15T14:32:05Z RELAY SIGN_COMPLETE remote=10.0.0.7:51234 archive="a.zip" exit=0 duration=2.3s
func (e *Event) Format() string {
	var b strings.Builder

	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString(" RELAY ")
	b.WriteString(string(e.Type))
	b.WriteString(" remote=")
	b.WriteString(e.Remote)
	b.WriteString(" archive=")
	b.WriteString(quoteValue(e.Archive))

	switch e.Type {
	case EventUpload, EventDownload:
		b.WriteString(" bytes=")
		b.WriteString(strconv.FormatInt(e.Size, 10))
	case EventSignRequest:
		b.WriteString(" subcommands=")
		b.WriteString(quoteValue(e.Subcommands))
	case EventSignComplete:
		b.WriteString(" exit=")
		b.WriteString(strconv.Itoa(e.ExitCode))
		b.WriteString(" duration=")
		b.WriteString(formatDuration(e.Duration))
	case EventSignTimeout:
		b.WriteString(" duration=")
		b.WriteString(formatDuration(e.Duration))
	case EventSignError:
		writeOptionalField(&b, "reason", e.Reason)
	}

	return b.String()
}

// writeOptionalField appends " key=quoted_value" if value is non-empty.
func writeOptionalField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(quoteValue(value))
}

// quoteValue always quotes so values with spaces stay one field.
func quoteValue(s string) string {
	return fmt.Sprintf("%q", s)
}

// formatDuration formats d as e.g. "850.0ms", "2.3s", "1m30s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// Logger writes audit events to an io.Writer. A nil *Logger discards.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewLogger creates an audit logger writing to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Log writes one event, stamping it if Timestamp is zero.
func (l *Logger) Log(e *Event) error {
	if l == nil || l.w == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if _, err := io.WriteString(l.w, e.Format()+"\n"); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogUpload logs an UPLOAD event.
func (l *Logger) LogUpload(remote, archive string, size int64) error {
	return l.Log(&Event{Type: EventUpload, Remote: remote, Archive: archive, Size: size})
}

// LogSignRequest logs a SIGN_REQUEST event.
func (l *Logger) LogSignRequest(remote, archive, subcommands string) error {
	return l.Log(&Event{Type: EventSignRequest, Remote: remote, Archive: archive, Subcommands: subcommands})
}

// LogSignComplete logs a SIGN_COMPLETE event.
func (l *Logger) LogSignComplete(remote, archive string, exitCode int, duration time.Duration) error {
	return l.Log(&Event{
		Type:     EventSignComplete,
		Remote:   remote,
		Archive:  archive,
		ExitCode: exitCode,
		Duration: duration,
	})
}

// LogSignTimeout logs a SIGN_TIMEOUT event.
func (l *Logger) LogSignTimeout(remote, archive string, duration time.Duration) error {
	return l.Log(&Event{Type: EventSignTimeout, Remote: remote, Archive: archive, Duration: duration})
}

// LogSignError logs a SIGN_ERROR event.
func (l *Logger) LogSignError(remote, archive, reason string) error {
	return l.Log(&Event{Type: EventSignError, Remote: remote, Archive: archive, Reason: reason})
}

// LogDownload logs a DOWNLOAD event.
func (l *Logger) LogDownload(remote, archive string, size int64) error {
	return l.Log(&Event{Type: EventDownload, Remote: remote, Archive: archive, Size: size})
}

// LogRemove logs a REMOVE event listing the deleted names.
func (l *Logger) LogRemove(remote string, removed []string) error {
	return l.Log(&Event{Type: EventRemove, Remote: remote, Archive: strings.Join(removed, ",")})
}
