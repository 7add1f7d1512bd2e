package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(opts ...Option) (Logger, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	opts = append([]Option{WithWriter(buf), WithQuiet()}, opts...)
	return NewLogger(opts...), buf
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(Logger)
		want    string
	}{
		{
			name:    "Info",
			logFunc: func(l Logger) { l.Info("plain message") },
			want:    `level=INFO msg="plain message"`,
		},
		{
			name:    "Warn",
			logFunc: func(l Logger) { l.Warn("careful") },
			want:    "level=WARN msg=careful",
		},
		{
			name:    "Error",
			logFunc: func(l Logger) { l.Error("broken") },
			want:    "level=ERROR msg=broken",
		},
		{
			name:    "Infof",
			logFunc: func(l Logger) { l.Infof("formatted %d", 42) },
			want:    `msg="formatted 42"`,
		},
		{
			name:    "Errorf",
			logFunc: func(l Logger) { l.Errorf("bad %s", "input") },
			want:    `msg="bad input"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := capture(WithFormat("text"))
			tt.logFunc(logger)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestLogger_DebugSuppressedByDefault(t *testing.T) {
	logger, buf := capture(WithFormat("text"))

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger, buf = capture(WithFormat("text"), WithDebug())
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestLogger_JSONFormat(t *testing.T) {
	logger, buf := capture(WithFormat("json"))

	logger.Info("structured", "plan_id", "p1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "structured", record["msg"])
	assert.Equal(t, "p1", record["plan_id"])
}

func TestLogger_WithAttributes(t *testing.T) {
	logger, buf := capture(WithFormat("text"))

	logger.With("plan_id", "p1").Info("tagged")

	output := buf.String()
	assert.Contains(t, output, "msg=tagged")
	assert.Contains(t, output, "plan_id=p1")
}

func TestLogger_WithGroup(t *testing.T) {
	logger, buf := capture(WithFormat("text"))

	logger.WithGroup("exec").Info("grouped", "step", "s1")

	assert.Contains(t, buf.String(), "exec.step=s1")
}

func TestLogger_QuietWithoutWriterDiscards(t *testing.T) {
	logger := NewLogger(WithFormat("text"), WithQuiet())

	// No destination is configured; logging must still be safe.
	logger.Info("dropped")
}

func TestFromContext(t *testing.T) {
	t.Run("CarriedLogger", func(t *testing.T) {
		logger, buf := capture(WithFormat("text"))
		ctx := WithLogger(context.Background(), logger)

		Info(ctx, "from context", "step", "s1")

		output := buf.String()
		assert.Contains(t, output, `msg="from context"`)
		assert.Contains(t, output, "step=s1")
	})

	t.Run("DefaultWhenUnset", func(t *testing.T) {
		require.NotNil(t, FromContext(context.Background()))
	})

	t.Run("FixedLoggerWins", func(t *testing.T) {
		fixed, fixedBuf := capture(WithFormat("text"))
		later, laterBuf := capture(WithFormat("text"))

		ctx := WithFixedLogger(context.Background(), fixed)
		ctx = WithLogger(ctx, later)

		Warn(ctx, "pinned")

		assert.Contains(t, fixedBuf.String(), "msg=pinned")
		assert.Empty(t, laterBuf.String())
	})
}

func TestLogger_ContextLevelHelpers(t *testing.T) {
	logger, buf := capture(WithFormat("text"), WithDebug())
	ctx := WithLogger(context.Background(), logger)

	Debug(ctx, "dbg")
	Infof(ctx, "count %d", 3)
	Errorf(ctx, "oops %s", "here")

	output := buf.String()
	assert.Contains(t, output, "msg=dbg")
	assert.Contains(t, output, `msg="count 3"`)
	assert.Contains(t, output, `msg="oops here"`)
	assert.True(t, strings.Contains(output, "level=DEBUG"))
}
