// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, an optional JSON log file fanned out next to stdout, and
// helpers for carrying a request-scoped logger in a context.
package logger
