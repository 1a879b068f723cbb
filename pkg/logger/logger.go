package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/killallgit/threadline/pkg/config"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger provides a unified logging interface
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	logger *log.Logger
	file   *os.File
	stderr io.Writer
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Init initializes the default logger from the global config
func Init() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger != nil {
		return nil // Already initialized
	}

	settings := config.Get()
	l, err := New(ParseLevel(settings.Logging.Level), config.ResolvePath(settings.Logging.LogFile), settings.Logging.Preserve)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defaultLogger = l
	return nil
}

// New creates a Logger writing to logPath. The file is truncated unless persist is set.
func New(level LogLevel, logPath string, persist bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if persist {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level:  level,
		logger: log.New(file, "", log.LstdFlags),
		file:   file,
		stderr: os.Stderr,
	}, nil
}

// NewWriter creates a Logger writing to w, used by tests and the CLI
func NewWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", 0),
		stderr: io.Discard,
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ParseLevel converts a string level to LogLevel
func ParseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l *Logger) log(level LogLevel, prefix, format string, args ...any) {
	if level < l.level {
		return
	}

	message := prefix + fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[%s] %s", level.String(), message)

	// Also write to stderr for errors and fatal messages
	if level >= LevelError {
		fmt.Fprintf(l.stderr, "[%s] %s\n", level.String(), message)
	}
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, "", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, "", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, "", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, "", format, args...) }

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, args ...any) {
	l.log(LevelFatal, "", format, args...)
	os.Exit(1)
}

// ComponentLogger prefixes every message with a component name. When built
// without an explicit logger it follows the package default, so components
// created before Init still log once the default exists.
type ComponentLogger struct {
	name   string
	target *Logger
}

// WithComponent returns a logger bound to the default logger
func WithComponent(name string) *ComponentLogger {
	return &ComponentLogger{name: name}
}

// WithComponent returns a component logger bound to l
func (l *Logger) WithComponent(name string) *ComponentLogger {
	return &ComponentLogger{name: name, target: l}
}

func (c *ComponentLogger) logger() *Logger {
	if c.target != nil {
		return c.target
	}
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func (c *ComponentLogger) emit(level LogLevel, format string, args ...any) {
	l := c.logger()
	if l == nil {
		return
	}
	l.log(level, "["+c.name+"] ", format, args...)
}

func (c *ComponentLogger) Debug(format string, args ...any) { c.emit(LevelDebug, format, args...) }
func (c *ComponentLogger) Info(format string, args ...any)  { c.emit(LevelInfo, format, args...) }
func (c *ComponentLogger) Warn(format string, args ...any)  { c.emit(LevelWarn, format, args...) }
func (c *ComponentLogger) Error(format string, args ...any) { c.emit(LevelError, format, args...) }

// Package-level convenience functions using the default logger

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...any) {
	if l := current(); l != nil {
		l.Debug(format, args...)
	}
}

// Info logs an info message using the default logger
func Info(format string, args ...any) {
	if l := current(); l != nil {
		l.Info(format, args...)
	}
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...any) {
	if l := current(); l != nil {
		l.Warn(format, args...)
	}
}

// Error logs an error message using the default logger
func Error(format string, args ...any) {
	if l := current(); l != nil {
		l.Error(format, args...)
	}
}

// Fatal logs a fatal message and exits using the default logger
func Fatal(format string, args ...any) {
	l := current()
	if l == nil {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
		os.Exit(1)
	}
	l.Fatal(format, args...)
}

// SetDefault replaces the default logger, returning the previous one
func SetDefault(l *Logger) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultLogger
	defaultLogger = l
	return prev
}

// SetOutput sets the output writer for the default logger (useful for testing)
func SetOutput(w io.Writer) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.logger.SetOutput(w)
		l.mu.Unlock()
	}
}

// Close closes the default logger
func Close() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		return nil
	}
	err := defaultLogger.Close()
	defaultLogger = nil
	return err
}
