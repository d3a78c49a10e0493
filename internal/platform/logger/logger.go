package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/genjob-api/internal/config"
	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a configured level name to a slog.Level (case-insensitive).
// Unknown names resolve to info and report ok=false.
func ParseLevel(name string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger on stdout
// and, when logCfg.File is set, fans every record out to that file as well.
// The logger is installed as the slog default.
//
// The returned close function releases the log file and is always non-nil.
func Setup(cfg config.ServerConfig, logCfg config.LogConfig) (*slog.Logger, func() error, error) {
	level, ok := ParseLevel(cfg.LogLevel)
	if !ok {
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.LogLevel,
			"default_level", "info")
	}

	noop := func() error { return nil }

	if logCfg.File == "" {
		logger := New(os.Stdout, nil, level)
		slog.SetDefault(logger)
		return logger, noop, nil
	}

	if dir := filepath.Dir(logCfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(logCfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open log file %s: %w", logCfg.File, err)
	}

	logger := New(os.Stdout, file, level)
	slog.SetDefault(logger)
	return logger, file.Close, nil
}

// New builds a JSON logger writing to out, plus file when it is non-nil.
func New(out io.Writer, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	stdoutHandler := slog.NewJSONHandler(out, opts)
	if file == nil {
		return slog.New(stdoutHandler)
	}
	fileHandler := slog.NewJSONHandler(file, opts)
	return slog.New(slogmulti.Fanout(stdoutHandler, fileHandler))
}
