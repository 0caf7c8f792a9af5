package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"carealert/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
)

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newWithConsole(cfg, os.Stdout)
}

func newWithConsole(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		file     *os.File
	)
	if cfg.Console.Enabled {
		handler, err := sinkHandler(cfg.Console, &levelColorWriter{dst: console}, console, true)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}
	if cfg.File.Enabled {
		var err error
		file, err = os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: open %q: %w", cfg.File.Path, err)
		}
		handler, err := sinkHandler(cfg.File, file, file, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	closeFn := func() {
		if file != nil {
			_ = file.Close()
		}
	}
	switch len(handlers) {
	case 0:
		return nil, nil, errors.New("no log sinks enabled")
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(teeHandler(handlers)), closeFn, nil
	}
}

// Component derives a child logger tagged with a component name.
// Params: parent logger (nil yields a discarding logger) and component name.
// Returns: tagged logger.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", name)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sinkHandler builds one sink. "line" writes text to lineDst, "json" to jsonDst;
// console sinks drop the time attribute.
func sinkHandler(sink config.LogSinkConfig, lineDst, jsonDst io.Writer, console bool) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(sink.Level))); err != nil {
		return nil, fmt.Errorf("unsupported level %q", sink.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	if console {
		opts.ReplaceAttr = func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		}
	}
	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line":
		return slog.NewTextHandler(lineDst, opts), nil
	case "json":
		return slog.NewJSONHandler(jsonDst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// teeHandler writes every record to each handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range t {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range t {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	next := make(teeHandler, len(t))
	for i, handler := range t {
		next[i] = fn(handler)
	}
	return next
}

// levelColorWriter tints each rendered console line by its level.
type levelColorWriter struct {
	dst io.Writer
}

func (w *levelColorWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	tone := ""
	switch {
	case strings.Contains(line, "level=DEBUG"):
		tone = ansiGray
	case strings.Contains(line, "level=INFO"):
		tone = ansiBlue
	case strings.Contains(line, "level=WARN"):
		tone = ansiYellow
	case strings.Contains(line, "level=ERROR"):
		tone = ansiRed
	default:
		return w.dst.Write(payload)
	}
	if _, err := io.WriteString(w.dst, tone+strings.TrimRight(line, "\n")+ansiReset+"\n"); err != nil {
		return 0, err
	}
	return len(payload), nil
}
