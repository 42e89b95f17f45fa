package common

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(-1), "UNKNOWN"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %v, want %v", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("ParseLogLevel(%q) error = %v, want ErrInvalidConfig", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
}

func TestAppLogger_Levels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LevelDebug, []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}},
		{LevelWarn, []string{"[WARN]", "[ERROR]"}},
		{LevelError, []string{"[ERROR]"}},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			l := newAppLogger(&buf)
			l.SetLevel(tt.level)

			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			if len(lines) != len(tt.want) {
				t.Fatalf("logged %d lines, want %d:\n%s", len(lines), len(tt.want), buf.String())
			}
			for i, w := range tt.want {
				if !strings.Contains(lines[i], w) {
					t.Errorf("line %d = %q, want %s", i, lines[i], w)
				}
			}
		})
	}
}

func TestAppLogger_LineFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newAppLogger(&buf)
	l.now = fixedClock

	l.Info("dialing %s", "Office")
	l.Component("coordinator").Warn("state %s", "Connected")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "2024/03/09 14:05:00 [INFO] logger_test.go:") ||
		!strings.HasSuffix(lines[0], ": dialing Office") {
		t.Errorf("line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ": coordinator: state Connected") || !strings.Contains(lines[1], "[WARN]") {
		t.Errorf("component line = %q", lines[1])
	}
}

func TestAppLogger_FileAndConsole(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	var console bytes.Buffer
	l := newAppLogger(&console)
	if err := l.EnableFileLogging(dir); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}

	l.SetOutput(&bytes.Buffer{})
	l.Info("written to file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Info("after close")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file = %q, want message", data)
	}
	if strings.Contains(string(data), "after close") {
		t.Error("log file written after Close")
	}
	if console.Len() != 0 {
		t.Errorf("replaced console got %q", console.String())
	}
}

func TestAppLogger_EnableFileLoggingNoDir(t *testing.T) {
	if err := newAppLogger(&bytes.Buffer{}).EnableFileLogging(""); err == nil {
		t.Error("EnableFileLogging(\"\") error = nil")
	}
}
