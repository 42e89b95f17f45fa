// Package common provides shared constants, types, and utilities
// used across the VPN Dialer application.
package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log line.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLogLevel converts a configuration value into a LogLevel.
// An empty value selects LevelInfo.
func ParseLogLevel(raw string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("%w: unsupported log level %q", ErrInvalidConfig, raw)
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	Dir         string // defaults to GetLogDir()
	MaxFileSize int64  // bytes before the file is rotated
	MaxBackups  int    // compressed backups kept
}

const (
	defaultMaxFileSize = 5 << 20
	defaultMaxBackups  = 5
)

// AppLogger writes leveled lines tagged with their call site to the console
// and, once EnableFileLogging is called, to a size-rotated file.
type AppLogger struct {
	mu          sync.Mutex
	level       LogLevel
	console     io.Writer
	file        *rotatingFile
	maxFileSize int64
	maxBackups  int
	now         func() time.Time
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

func newAppLogger(console io.Writer) *AppLogger {
	return &AppLogger{
		level:       LevelInfo,
		console:     console,
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
		now:         time.Now,
	}
}

// GetLogger returns the process-wide logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = newAppLogger(os.Stderr)
	})
	return defaultLogger
}

// InitLogger applies cfg to the default logger.
func InitLogger(cfg LogConfig) error {
	l := GetLogger()
	l.mu.Lock()
	l.level = cfg.Level
	if cfg.MaxFileSize > 0 {
		l.maxFileSize = cfg.MaxFileSize
	}
	if cfg.MaxBackups > 0 {
		l.maxBackups = cfg.MaxBackups
	}
	l.mu.Unlock()

	if !cfg.EnableFile {
		return nil
	}
	dir := cfg.Dir
	if dir == "" {
		dir = GetLogDir()
	}
	return l.EnableFileLogging(dir)
}

func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput replaces the console writer. The log file is unaffected.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
}

// EnableFileLogging starts writing LogFileName in dir as well as the console.
func (l *AppLogger) EnableFileLogging(dir string) error {
	if dir == "" {
		return fmt.Errorf("log directory is not set")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := openRotatingFile(filepath.Join(dir, LogFileName), l.maxFileSize, l.maxBackups, l.now)
	if err != nil {
		return err
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	return nil
}

// GetLogDir returns ~/.config/vpn-dialer/logs.
func GetLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

// log must be called directly by an exported logging method so that the
// caller two frames up is the code that logged.
func (l *AppLogger) log(level LogLevel, component, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	if component != "" {
		msg = component + ": " + msg
	}
	line := fmt.Sprintf("%s [%s] %s: %s\n", l.now().Format("2006/01/02 15:04:05"), level, caller, msg)

	io.WriteString(l.console, line)
	if l.file == nil {
		return
	}
	if err := l.file.WriteLine(line); err != nil {
		fmt.Fprintf(l.console, "log file: %v\n", err)
	}
}

func (l *AppLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, "", msg, args...) }
func (l *AppLogger) Info(msg string, args ...interface{})  { l.log(LevelInfo, "", msg, args...) }
func (l *AppLogger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, "", msg, args...) }
func (l *AppLogger) Error(msg string, args ...interface{}) { l.log(LevelError, "", msg, args...) }

// Component returns a Logger that prefixes messages with name.
func (l *AppLogger) Component(name string) Logger {
	return &componentLogger{parent: l, name: name}
}

type componentLogger struct {
	parent *AppLogger
	name   string
}

func (c *componentLogger) Debug(msg string, args ...interface{}) {
	c.parent.log(LevelDebug, c.name, msg, args...)
}

func (c *componentLogger) Info(msg string, args ...interface{}) {
	c.parent.log(LevelInfo, c.name, msg, args...)
}

func (c *componentLogger) Warn(msg string, args ...interface{}) {
	c.parent.log(LevelWarn, c.name, msg, args...)
}

func (c *componentLogger) Error(msg string, args ...interface{}) {
	c.parent.log(LevelError, c.name, msg, args...)
}

// LogDebug logs to the default logger.
func LogDebug(msg string, args ...interface{}) { GetLogger().log(LevelDebug, "", msg, args...) }

// LogInfo logs to the default logger.
func LogInfo(msg string, args ...interface{}) { GetLogger().log(LevelInfo, "", msg, args...) }

// LogWarn logs to the default logger.
func LogWarn(msg string, args ...interface{}) { GetLogger().log(LevelWarn, "", msg, args...) }

// LogError logs to the default logger.
func LogError(msg string, args ...interface{}) { GetLogger().log(LevelError, "", msg, args...) }

// Close stops file logging.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// CloseLogger closes the default logger.
func CloseLogger() error {
	return GetLogger().Close()
}
