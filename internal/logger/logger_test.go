package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel("info")
	l.Debug("hidden %d", 1)
	l.Info("visible %d", 2)
	l.Error("visible %d", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var line logLineData
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	require.Equal(t, "info", line.Level)
	require.Equal(t, "visible 2", line.Message)
	require.NotEmpty(t, line.Ts)
}

func TestLoggerDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetEnabled(false)
	l.Error("nope")
	require.Zero(t, buf.Len())
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	l := New(&bytes.Buffer{})
	require.Panics(t, func() { l.SetLevel("trace") })
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsole(&buf, true)
	l.Info("skipped at default level")
	require.Zero(t, buf.Len())

	l.SetLevel("debug")
	l.Debug("tool called: %s", "get_ticket_price")
	require.Contains(t, buf.String(), "tool called: get_ticket_price")
	require.Contains(t, buf.String(), "DBG")
}

func TestNoOp(t *testing.T) {
	l := NoOp()
	l.SetLevel("whatever")
	l.Error("nothing happens")
}
