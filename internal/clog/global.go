package clog

import "io"

var std = NewLogger()

// Configure sets up the global logger. An empty logPath disables file
// logging; daemon disables stderr output.
func Configure(logPath string, level Level, daemon bool) error {
	std.SetLevel(level)
	std.SetDaemonMode(daemon)
	if logPath == "" {
		return nil
	}
	f, err := OpenLogFile(logPath)
	if err != nil {
		return err
	}
	std.SetFileOutput(f)
	return nil
}

func SetLevel(level Level)          { std.SetLevel(level) }
func SetFileOutput(w io.Writer)     { std.SetFileOutput(w) }
func SetErrOutput(w io.Writer)      { std.SetErrOutput(w) }
func SetDaemonMode(daemon bool)     { std.SetDaemonMode(daemon) }
func Debug(format string, a ...any) { std.Debug(format, a...) }
func Info(format string, a ...any)  { std.Info(format, a...) }
func Warn(format string, a ...any)  { std.Warn(format, a...) }
func Error(format string, a ...any) { std.Error(format, a...) }

// Block logs captured multi-line output through the global logger.
func Block(level Level, label, text string) { std.Block(level, label, text) }

// Close closes the file writer if it is an io.Closer.
func Close() error {
	std.mu.Lock()
	defer std.mu.Unlock()
	if c, ok := std.fileWriter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// TestLogger returns a debug-level logger writing everything to w.
func TestLogger(w io.Writer) *Logger {
	l := NewLogger()
	l.SetFileOutput(w)
	l.SetErrOutput(nil)
	l.SetLevel(LevelDebug)
	return l
}

// ReplaceGlobal swaps the global logger and returns the previous one.
func ReplaceGlobal(l *Logger) *Logger {
	old := std
	std = l
	return old
}

// Discard silences the global logger.
func Discard() {
	std.SetFileOutput(io.Discard)
	std.SetErrOutput(io.Discard)
}
