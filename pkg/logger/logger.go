// Package logger provides a structured, levelled logger built on log/slog.
//
// The key extension over plain slog is WithInstance: it creates a logger
// with a cache instance id already attached, so every log line emitted by
// a Graph or Client is correlated back to the instance that
// produced it even when an application runs several independent caches:
//
//	log := logger.WithInstance(instanceID)
//	log.Info("graph commit", "version", v)
//	// → time=... level=INFO msg="graph commit" instance=c-3f1a version=7
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/shashiranjanraj/cachebay/config"
)

var L *slog.Logger

func init() {
	var level slog.Level

	switch config.AppEnv() {
	case "production", "prod":
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch config.AppEnv() {
	case "production", "prod":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	L = slog.New(handler)
	slog.SetDefault(L)
}

// ─────────────────────────────────────────────
// Instance-scoped logger
// ─────────────────────────────────────────────

// ctxKey is the unexported key used to store a per-instance *slog.Logger.
type ctxKey struct{}

// WithInstance returns a *slog.Logger pre-tagged with the given cache
// instance id. Graph and Client each hold a logger built this
// way so log lines from concurrently running instances stay distinguishable.
func WithInstance(instanceID string) *slog.Logger {
	if instanceID == "" {
		return L
	}
	return L.With("instance", instanceID)
}

// WithCtx returns the *slog.Logger previously injected into ctx via
// InjectLogger, or the base logger if none was stored.
func WithCtx(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return L
}

// InjectLogger stores a *slog.Logger (usually built with WithInstance) into
// ctx so downstream calls inherit its tags without threading it explicitly.
func InjectLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// ─────────────────────────────────────────────
// Short-hand helpers (use base logger)
// ─────────────────────────────────────────────

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs at INFO level.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs at WARN level.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs at ERROR level.
func Error(msg string, args ...any) { L.Error(msg, args...) }
