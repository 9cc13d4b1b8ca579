package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFrom(zap.New(core))

	l.Warn("verification rejected", map[string]any{
		"reason": "amount_mismatch",
		"err":    errors.New("short by 0.02"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "verification rejected", entries[0].Message)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "amount_mismatch", ctx["reason"])
	assert.Equal(t, "short by 0.02", ctx["err"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}

func TestMerge(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	out := Merge(base, map[string]any{"b": 3})

	assert.Equal(t, map[string]any{"a": 1, "b": 3}, out)
	assert.Equal(t, 2, base["b"])
}
