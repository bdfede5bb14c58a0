package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStderr(t *testing.T, w io.Writer) {
	t.Helper()
	orig := stderr
	origLevel := zerolog.GlobalLevel()
	stderr = w
	t.Cleanup(func() {
		stderr = orig
		zerolog.SetGlobalLevel(origLevel)
		Init(Config{Format: "json", Level: "info"})
	})
}

func TestLevelFor(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		" warning": zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"trace":    zerolog.TraceLevel,
		"disabled": zerolog.Disabled,
	}
	for in, want := range tests {
		assert.Equal(t, want, levelFor(in), "levelFor(%q)", in)
	}
}

func TestLevelFor_InvalidFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	withStderr(t, &buf)

	assert.Equal(t, zerolog.InfoLevel, levelFor("loud"))
	assert.Contains(t, buf.String(), `invalid level "loud"`)
}

func TestInit_JSONIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	withStderr(t, &buf)

	Init(Config{Format: "json", Level: "debug", Component: "pveview"})
	log.Debug().Str("k", "v").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pveview", entry["component"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "v", entry["k"])
	assert.True(t, IsLevelEnabled(zerolog.DebugLevel))
}

func TestWriterFor_AutoUsesConsoleOnTerminal(t *testing.T) {
	origTerm := isTerminalFn
	t.Cleanup(func() { isTerminalFn = origTerm })
	withStderr(t, os.Stderr)

	isTerminalFn = func(int) bool { return true }
	_, isConsole := writerFor("auto").(zerolog.ConsoleWriter)
	assert.True(t, isConsole)

	isTerminalFn = func(int) bool { return false }
	assert.Equal(t, io.Writer(os.Stderr), writerFor("auto"))
}

func TestRequestIDContext(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, RequestID(ctx))

	ctx, id = WithRequestID(ctx, "  fixed ")
	assert.Equal(t, "fixed", id)
	assert.Equal(t, "fixed", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))

	var buf bytes.Buffer
	withStderr(t, &buf)
	Init(Config{Format: "json"})
	logger := FromContext(ctx)
	logger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"request_id":"fixed"`)
}

func TestSessionIDContext(t *testing.T) {
	assert.Empty(t, SessionID(context.Background()))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx, _ = WithRequestID(ctx, "req-1")
	assert.Equal(t, "sess-1", SessionID(ctx))

	var buf bytes.Buffer
	withStderr(t, &buf)
	Init(Config{Format: "json"})
	logger := FromContext(ctx)
	logger.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-1", entry["session"])
	assert.Equal(t, "req-1", entry["request_id"])
}
