package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineLoggerKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewEngineLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf, Component: "scheduler"})

	l.Warn("Step failed", "step_id", "s-1", "error_kind", "tool_error")

	out := buf.String()
	assert.Contains(t, out, `msg="Step failed"`)
	assert.Contains(t, out, "step_id=s-1")
	assert.Contains(t, out, "error_kind=tool_error")
	assert.Contains(t, out, "component=scheduler")
	assert.NotContains(t, out, "EXTRA")
}

func TestEngineLoggerExecutionContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewEngineLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf}).
		WithExecution("planner", "ex-42")

	l.Info("Graph started", "steps", 3)

	out := buf.String()
	assert.Contains(t, out, "protocol=planner")
	assert.Contains(t, out, "execution_id=ex-42")
	assert.Contains(t, out, "steps=3")
}

func TestEngineLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewEngineLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	l.Info("quiet", "k", "v")
	assert.Empty(t, buf.String())

	l.Error("loud", "k", "v")
	assert.Contains(t, buf.String(), "loud")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("debug"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warn"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("info"))
	assert.Equal(t, LogLevelInfo, ParseLevel("verbose"))
}
