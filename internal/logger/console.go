package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lmittmann/tint"
)

var _ Logger = (*consoleLogger)(nil)

type consoleLogger struct {
	mux     sync.RWMutex
	enabled bool
	level   *slog.LevelVar
	slog    *slog.Logger
}

// NewConsole returns a human readable logger for terminal output, used when
// the program runs without the full-screen UI.
func NewConsole(out io.Writer, noColor bool) Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelError)
	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
	return &consoleLogger{
		enabled: true,
		level:   level,
		slog:    slog.New(handler),
	}
}

func (c *consoleLogger) SetEnabled(enabled bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.enabled = enabled
}

func (c *consoleLogger) SetLevel(level string) {
	switch level {
	case "debug":
		c.level.Set(slog.LevelDebug)
	case "info":
		c.level.Set(slog.LevelInfo)
	case "error":
		c.level.Set(slog.LevelError)
	default:
		panic(fmt.Sprintf("invalid log level: %s", level))
	}
}

func (c *consoleLogger) Debug(msg string, args ...any) {
	c.log(slog.LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...any) {
	c.log(slog.LevelInfo, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...any) {
	c.log(slog.LevelError, msg, args...)
}

func (c *consoleLogger) log(level slog.Level, msg string, args ...any) {
	c.mux.RLock()
	enabled := c.enabled
	c.mux.RUnlock()
	if !enabled {
		return
	}
	ctx := context.Background()
	if !c.slog.Enabled(ctx, level) {
		return
	}
	c.slog.Log(ctx, level, fmt.Sprintf(msg, args...))
}
