package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/studybot/core/buildinfo"
	coreconfig "github.com/m3rciful/studybot/core/config"
)

var (
	initOnce sync.Once
	stopOnce sync.Once

	out     *asyncWriter
	closers []io.Closer

	level   slog.LevelVar
	debugs  = newSampler(1, 50)
	tracing bool

	// L is the root logger. Until InitLogger runs it discards everything,
	// which keeps package tests quiet.
	L = slog.New(slog.DiscardHandler)
)

// InitLogger installs the structured handler as the process default. Only the
// first call has an effect.
func InitLogger(cfg coreconfig.LoggingConfig) error {
	var initErr error
	initOnce.Do(func() {
		level.Set(parseLevel(cfg.Level))
		debugs.Set(debugRatio(cfg.DebugSample))
		tracing = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))

		sinks, files, err := openSinks(cfg)
		if err != nil {
			initErr = err
			return
		}
		closers = files
		out = newAsyncWriter(sinks, 64<<10)

		root := slog.New(newStructuredHandler(handlerOptions{
			level:  &level,
			out:    out,
			format: parseFormat(cfg),
			order:  parseOrder(cfg.KeysOrder),
		}))
		L = root
		slog.SetDefault(root)

		LogEvent(context.Background(), Component("app"), slog.LevelInfo, "startup",
			slog.String("go_version", runtime.Version()),
			slog.String("version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("cfg_profile", profile(cfg)),
		)
	})
	return initErr
}

// Shutdown flushes queued lines and closes file sinks.
func Shutdown() error {
	var err error
	stopOnce.Do(func() {
		var errs []error
		if out != nil {
			errs = append(errs, out.Close())
		}
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}

// Base returns the root logger.
func Base() *slog.Logger { return L }

// Component returns the root logger scoped to a component name.
func Component(name string) *slog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return L
	}
	return L.With("component", name)
}

// LogEvent logs an event-keyed record with ctx correlation fields.
func LogEvent(ctx context.Context, l *slog.Logger, lvl slog.Level, event string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		l = FromContext(ctx)
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	l.LogAttrs(ctx, lvl, "", attrs...)
}

// Event logs at lvl under the given component.
func Event(ctx context.Context, component string, lvl slog.Level, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), lvl, event, attrs...)
}

// Debug logs a debug event.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info event.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warning event.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error event.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// Err is shorthand for the conventional error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", SanitizeLimit(err.Error(), 512))
}

// ShouldSampleDebug reports whether a high-volume debug line should be kept.
func ShouldSampleDebug() bool {
	return tracing || debugs.Allow()
}

// TraceEnabled reports whether TRACE forces full debug output.
func TraceEnabled() bool { return tracing }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func parseFormat(cfg coreconfig.LoggingConfig) logFormat {
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		return formatJSON
	case "kv", "text", "pretty":
		return formatKV
	}
	if p := profile(cfg); p == "debug" || p == "dev" {
		return formatKV
	}
	return formatJSON
}

func parseOrder(spec string) []string {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "default" {
		return defaultKeyOrder
	}
	var order []string
	for _, k := range strings.Split(spec, ",") {
		if k = strings.TrimSpace(k); k != "" {
			order = append(order, k)
		}
	}
	if len(order) == 0 {
		return defaultKeyOrder
	}
	return order
}

func debugRatio(spec string) (int, int) {
	if strings.TrimSpace(spec) == "" {
		return 1, 50
	}
	return parseRatio(spec)
}

func profile(cfg coreconfig.LoggingConfig) string {
	if p := strings.ToLower(strings.TrimSpace(cfg.Profile)); p != "" {
		return p
	}
	return "prod"
}

func openSinks(cfg coreconfig.LoggingConfig) ([]io.Writer, []io.Closer, error) {
	sinks := []io.Writer{os.Stdout}
	dir, name := strings.TrimSpace(cfg.Dir), strings.TrimSpace(cfg.BotFile)
	if dir == "" || name == "" {
		return sinks, nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logger: create dir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: open file: %w", err)
	}
	return append(sinks, f), []io.Closer{f}, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
