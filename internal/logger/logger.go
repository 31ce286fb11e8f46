package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

type Logger interface {
	SetEnabled(enabled bool)
	SetLevel(level string)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

var levels = []string{"debug", "info", "error"}

func validLevel(level string) bool {
	return slices.Contains(levels, level)
}

//--------------------------------------------------------------------------------------------------

var _ Logger = (*noOpLogger)(nil)

type noOpLogger struct{}

func NoOp() Logger {
	return &noOpLogger{}
}

func (n *noOpLogger) SetEnabled(_ bool)        {}
func (n *noOpLogger) SetLevel(_ string)        {}
func (n *noOpLogger) Debug(_ string, _ ...any) {}
func (n *noOpLogger) Info(_ string, _ ...any)  {}
func (n *noOpLogger) Error(_ string, _ ...any) {}

//--------------------------------------------------------------------------------------------------

var _ Logger = (*logger)(nil)

type syncer interface {
	Sync() error
}

type logger struct {
	mux     sync.RWMutex
	enabled bool
	level   string
	out     io.Writer
}

// New returns a logger writing one JSON object per line to out. Writers that
// can be synced (such as *os.File) are synced after every line.
func New(out io.Writer) Logger {
	return &logger{
		enabled: true,
		level:   "error",
		out:     out,
	}
}

func (l *logger) SetEnabled(enabled bool) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.enabled = enabled
}

func (l *logger) SetLevel(level string) {
	if !validLevel(level) {
		panic(fmt.Sprintf("invalid log level: %s", level))
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	l.level = level
}

func (l *logger) Debug(msg string, args ...any) {
	l.log("debug", msg, args...)
}

func (l *logger) Info(msg string, args ...any) {
	l.log("info", msg, args...)
}

func (l *logger) Error(msg string, args ...any) {
	l.log("error", msg, args...)
}

type logLineData struct {
	Ts      string `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (l *logger) log(level string, msg string, args ...any) {
	l.mux.RLock()
	_enabled, _level := l.enabled, l.level
	l.mux.RUnlock()
	if !_enabled || l.out == nil {
		return
	}
	if slices.Index(levels, level) < slices.Index(levels, _level) {
		return
	}
	logLineDataBytes, err := json.Marshal(logLineData{
		Ts:      time.Now().Format(time.RFC3339),
		Level:   level,
		Message: fmt.Sprintf(msg, args...),
	})
	if err != nil {
		panic(fmt.Sprintf("error marshalling log line: %v", err))
	}
	// a single write per line keeps concurrent sessions from interleaving
	l.mux.Lock()
	defer l.mux.Unlock()
	if _, err := l.out.Write(append(logLineDataBytes, '\n')); err != nil {
		panic(fmt.Sprintf("error writing log line: %v", err))
	}
	if s, ok := l.out.(syncer); ok {
		if err := s.Sync(); err != nil {
			panic(fmt.Sprintf("error syncing log file: %v", err))
		}
	}
}
