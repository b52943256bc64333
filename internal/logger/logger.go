// Package logger is the process-wide structured logger, a thin layer over
// log/slog with a colored text handler for terminals and a JSON handler for
// machines. Level and format can be changed at runtime.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	level = new(slog.LevelVar)

	mu       sync.RWMutex
	format   = "text"
	output   io.Writer = os.Stdout
	useColor bool
	slogger  *slog.Logger
	closer   io.Closer
)

func init() {
	useColor = isTerminal(os.Stdout.Fd())
	rebuild()
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// rebuild must be called with mu held for writing, or during init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Output may be "stdout", "stderr" or a file path, which
// is opened for appending.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "":
	case "stdout":
		setOutputLocked(os.Stdout, isTerminal(os.Stdout.Fd()), nil)
	case "stderr":
		setOutputLocked(os.Stderr, isTerminal(os.Stderr.Fd()), nil)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		setOutputLocked(f, false, f)
	}

	if cfg.Level != "" {
		lvl, err := ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level.Set(lvl)
	}
	if cfg.Format != "" {
		f := strings.ToLower(cfg.Format)
		if f != "text" && f != "json" {
			return fmt.Errorf("unknown log format %q", cfg.Format)
		}
		format = f
	}
	rebuild()
	return nil
}

func setOutputLocked(w io.Writer, color bool, c io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
	output, useColor, closer = w, color, c
}

// InitWithWriter directs output to w. Intended for tests.
func InitWithWriter(w io.Writer, lvl, fmtName string, color bool) {
	mu.Lock()
	defer mu.Unlock()
	setOutputLocked(w, color, nil)
	if l, err := ParseLevel(lvl); err == nil && lvl != "" {
		level.Set(l)
	}
	if fmtName == "json" || fmtName == "text" {
		format = fmtName
	}
	rebuild()
}

// SetLevel changes the minimum level; invalid names are ignored.
func SetLevel(name string) {
	if l, err := ParseLevel(name); err == nil {
		level.Set(l)
	}
}

// Level returns the current minimum level.
func Level() slog.Level { return level.Level() }

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level. Usage: Debug("msg", "key", value, ...)
func Debug(msg string, args ...any) { logAt(context.Background(), slog.LevelDebug, msg, args) }

func Info(msg string, args ...any) { logAt(context.Background(), slog.LevelInfo, msg, args) }

func Warn(msg string, args ...any) { logAt(context.Background(), slog.LevelWarn, msg, args) }

func Error(msg string, args ...any) { logAt(context.Background(), slog.LevelError, msg, args) }

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level and prepends the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, withContextFields(ctx, args))
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, withContextFields(ctx, args))
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, withContextFields(ctx, args))
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelError, msg, withContextFields(ctx, args))
}

func logAt(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if lvl < level.Level() {
		return
	}
	get().Log(ctx, lvl, msg, args...)
}

// With returns a logger with pre-bound attributes. Components that own a
// scope (one connection, one store) keep the result.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Duration returns milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
