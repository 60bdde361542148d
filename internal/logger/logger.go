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

// Level represents log levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// sink is the destination every handler writes to. It is swapped as a whole
// so a handler never observes a half-updated output/color pair.
type sink struct {
	w      io.Writer
	closer io.Closer // non-nil when the logger opened a file
	color  bool
	format string
}

var (
	// level is shared by every handler, so SetLevel never rebuilds them.
	level = new(slog.LevelVar)

	mu      sync.RWMutex
	current = sink{w: os.Stdout, format: "text"}
	slogger *slog.Logger
)

func init() {
	current.color = isTerminal(os.Stdout)
	rebuild()
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "text", "json":
		return f, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

// rebuild creates the slog handler for the current sink. Callers must not
// hold mu.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if current.format == "json" {
		h = slog.NewJSONHandler(current.w, opts)
	} else {
		h = NewColorTextHandler(current.w, opts, current.color)
	}
	slogger = slog.New(h)
}

// swap installs s as the output and closes the file the previous sink
// owned, if any.
func swap(s sink) {
	mu.Lock()
	prev := current
	current = s
	mu.Unlock()

	rebuild()

	if prev.closer != nil && prev.closer != s.closer {
		_ = prev.closer.Close()
	}
}

// Init configures the logger. Output can be "stdout", "stderr", or a file
// path which is opened in append mode. Unknown levels or formats are
// rejected without touching the current configuration.
func Init(cfg Config) error {
	lvl := Level(-1)
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		lvl = l
	}

	mu.RLock()
	next := current
	mu.RUnlock()

	if cfg.Format != "" {
		f, err := parseFormat(cfg.Format)
		if err != nil {
			return err
		}
		next.format = f
	}

	if cfg.Output != "" {
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			next = sink{w: os.Stdout, color: isTerminal(os.Stdout), format: next.format}
		case "stderr":
			next = sink{w: os.Stderr, color: isTerminal(os.Stderr), format: next.format}
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			next = sink{w: f, closer: f, format: next.format}
		}
	}

	if lvl >= 0 {
		level.Set(lvl.toSlog())
	}
	swap(next)
	return nil
}

// InitWithWriter initializes the logger with a custom io.Writer.
// This is primarily useful for testing.
func InitWithWriter(w io.Writer, lvl, format string, enableColor bool) {
	if l, err := ParseLevel(lvl); err == nil {
		level.Set(l.toSlog())
	}

	mu.RLock()
	f := current.format
	mu.RUnlock()
	if pf, err := parseFormat(format); err == nil {
		f = pf
	}

	swap(sink{w: w, color: enableColor, format: f})
}

// SetLevel sets the minimum log level. Invalid names are ignored.
func SetLevel(name string) {
	if l, err := ParseLevel(name); err == nil {
		level.Set(l.toSlog())
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	switch l := level.Level(); {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// SetFormat sets the output format (text or json). Invalid names are
// ignored.
func SetFormat(format string) {
	f, err := parseFormat(format)
	if err != nil {
		return
	}
	mu.RLock()
	next := current
	mu.RUnlock()
	next.format = f
	swap(next)
}

func getLogger() *slog.Logger {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	return l
}

func enabled(l slog.Level) bool {
	return l >= level.Level()
}

// Debug logs at debug level with structured fields
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) {
	if !enabled(slog.LevelDebug) {
		return
	}
	getLogger().Debug(msg, args...)
}

// Info logs at info level with structured fields
func Info(msg string, args ...any) {
	if !enabled(slog.LevelInfo) {
		return
	}
	getLogger().Info(msg, args...)
}

// Warn logs at warn level with structured fields
func Warn(msg string, args ...any) {
	if !enabled(slog.LevelWarn) {
		return
	}
	getLogger().Warn(msg, args...)
}

// Error logs at error level with structured fields
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// DebugCtx logs at debug level, prefixed with the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(slog.LevelDebug) {
		return
	}
	getLogger().Debug(msg, appendContextFields(ctx, args)...)
}

// InfoCtx logs at info level with context
func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(slog.LevelInfo) {
		return
	}
	getLogger().Info(msg, appendContextFields(ctx, args)...)
}

// WarnCtx logs at warn level with context
func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(slog.LevelWarn) {
		return
	}
	getLogger().Warn(msg, appendContextFields(ctx, args)...)
}

// ErrorCtx logs at error level with context
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	getLogger().Error(msg, appendContextFields(ctx, args)...)
}

// appendContextFields prepends the LogContext fields so they appear first in
// the output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 14+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.Operation != "" {
		out = append(out, KeyOperation, lc.Operation)
	}
	if lc.Path != "" {
		out = append(out, KeyPath, lc.Path)
	}
	if lc.Inode != 0 {
		out = append(out, KeyInode, lc.Inode)
	}
	if lc.Generation != 0 {
		out = append(out, KeyGeneration, lc.Generation)
	}
	if lc.Target != "" {
		out = append(out, KeyTarget, lc.Target)
	}
	if lc.TaskID != 0 {
		out = append(out, KeyTaskID, lc.TaskID)
	}
	return append(out, args...)
}

// With returns a new slog.Logger with additional attributes
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns duration since start time in milliseconds
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
