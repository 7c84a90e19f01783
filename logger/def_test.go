package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	assert.NotNil(t, Log())

	core, logs := observer.New(zap.InfoLevel)
	Set(zap.New(core))
	Log().Info("cropped", zap.Int("count", 3))
	Log().Debug("hidden")
	Sync()

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "cropped", entries[0].Message)
		assert.Equal(t, int64(3), entries[0].ContextMap()["count"])
	}
}

func TestInit_Level(t *testing.T) {
	t.Cleanup(func() { _ = Init("info") })

	t.Run("Test warn hides info", func(t *testing.T) {
		require.NoError(t, Init("warn"))
		assert.Equal(t, zapcore.WarnLevel, Level().Level())
		assert.False(t, Log().Core().Enabled(zapcore.InfoLevel))
		assert.True(t, Log().Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("Test debug", func(t *testing.T) {
		require.NoError(t, Init("debug"))
		assert.True(t, Log().Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("Test empty means info", func(t *testing.T) {
		require.NoError(t, Init(""))
		assert.Equal(t, zapcore.InfoLevel, Level().Level())
	})

	t.Run("Test runtime change", func(t *testing.T) {
		require.NoError(t, Init("info"))
		Level().SetLevel(zapcore.ErrorLevel)
		assert.False(t, Log().Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("Test unknown level", func(t *testing.T) {
		assert.Error(t, Init("chatty"))
	})
}
