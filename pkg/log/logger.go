// Package log provides structured logging utilities for the gomint worker.
// It wraps the standard library's slog package with mint-specific helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

// Context keys understood by WithContext.
const (
	IterationKey ctxKey = "iteration"
	SeedKey      ctxKey = "seed"
)

// Logger wraps slog.Logger with service metadata and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "test", "dev", "error", "text")
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger carrying the loop iteration and seed from ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger
	if it := ctx.Value(IterationKey); it != nil {
		logger = logger.With("iteration", it)
	}
	if seed := ctx.Value(SeedKey); seed != nil {
		logger = logger.With("seed", seed)
	}
	return &Logger{Logger: logger, service: l.service, version: l.version}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// WithWallet returns a logger scoped to one wallet
func (l *Logger) WithWallet(name, address string) *Logger {
	return l.WithFields("wallet", name, "address", address)
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(d)/float64(time.Millisecond),
	)
}

// LogThroughput logs hashes (or any unit) per second
func (l *Logger) LogThroughput(operation string, count float64, d time.Duration) {
	if d <= 0 {
		return
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ms", float64(d)/float64(time.Millisecond),
		"per_sec", count/d.Seconds(),
	)
}

// LogProgress logs an aggregated snapshot of a running mint batch
func (l *Logger) LogProgress(percent, speed float64, dailyERG, dailyMEL float64, reserve string) {
	l.Info("minting",
		"progress_pct", percent,
		"speed_hps", speed,
		"daily_erg", dailyERG,
		"daily_mel", dailyMEL,
		"reserve", reserve,
	)
}

// LogSubmission logs the outcome of one proof submission attempt
func (l *Logger) LogSubmission(seed string, difficulty uint, fails int, status string) {
	l.Info("proof submission",
		"seed", seed,
		"difficulty", difficulty,
		"fails", fails,
		"status", status,
	)
}

// LogFee logs a fee ledger entry
func (l *Logger) LogFee(kind string, fee, income, balance uint64) {
	l.Debug("fee recorded",
		"kind", kind,
		"fee", fee,
		"income", income,
		"balance", balance,
	)
}
