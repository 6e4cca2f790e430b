package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// Logger is the global logger instance. Until Init runs it writes
	// warnings and errors to stderr.
	Logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           log.WarnLevel,
	})

	// logFile is the file handle for the log file
	logFile *os.File
)

// Options configures Init.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Dir, when set, receives a dated log file instead of stderr.
	Dir string
	// Format is "text" or "json".
	Format string
}

// Init initializes the logging system
func Init(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	var w io.Writer = os.Stderr
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		logFileName := fmt.Sprintf("storyline-%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(opts.Dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		w = f
	}

	Logger = New(w, level)
	if opts.Format == "json" {
		Logger.SetFormatter(log.JSONFormatter)
	}
	return nil
}

// New builds a logger with the package's timestamp settings. Tests use it to
// capture output.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	})
}

// Close closes the log file
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Info logs an info message
func Info(msg string, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

// Debug logs a debug message
func Debug(msg string, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

// Warn logs a warning message
func Warn(msg string, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

// Error logs an error message
func Error(msg string, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

// Fatal logs an error message and exits
func Fatal(msg string, keyvals ...interface{}) {
	Logger.Fatal(msg, keyvals...)
}

// WithPrefix returns a logger with a prefix
func WithPrefix(prefix string) *log.Logger {
	return Logger.WithPrefix(prefix)
}
