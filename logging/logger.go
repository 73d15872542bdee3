// Package logging builds the glog.Logger used by the CLI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const levelTrace = slog.Level(-8)

type Options struct {
	// Format is "text" or "json".
	Format string
	// Level is trace, debug, info, warn or error. Debug forces at least debug.
	Level string
	Debug bool
}

// New returns a glog.Logger writing structured records to w.
func New(w io.Writer, opts Options) (glog.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		h = slog.NewTextHandler(w, handlerOpts)
	case "json":
		h = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}
	return &logger{l: slog.New(h), ctx: context.Background()}, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return levelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
}

type logger struct {
	l   *slog.Logger
	ctx context.Context
}

func (g *logger) Trace(msg string, args ...any) { g.l.Log(g.ctx, levelTrace, msg, args...) }
func (g *logger) Debug(msg string, args ...any) { g.l.Log(g.ctx, slog.LevelDebug, msg, args...) }
func (g *logger) Info(msg string, args ...any)  { g.l.Log(g.ctx, slog.LevelInfo, msg, args...) }
func (g *logger) Warn(msg string, args ...any)  { g.l.Log(g.ctx, slog.LevelWarn, msg, args...) }
func (g *logger) Error(msg string, args ...any) { g.l.Log(g.ctx, slog.LevelError, msg, args...) }

func (g *logger) Fatal(msg string, args ...any) {
	g.l.Log(g.ctx, slog.LevelError, msg, args...)
	os.Exit(1)
}

func (g *logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return g
	}
	return &logger{l: g.l, ctx: ctx}
}

var _ glog.Logger = (*logger)(nil)
