package logger

import (
	"testing"

	"github.com/smallbiznis/erpsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewBuildsLoggerWithServiceFields(t *testing.T) {
	log, err := New(config.Config{
		AppName:     "erpsync",
		Environment: "production",
		LogLevel:    "warn",
	})
	require.NoError(t, err)
	defer log.Sync()

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestNewDefaultsLevelToInfo(t *testing.T) {
	log, err := New(config.Config{AppName: "erpsync", Environment: "development"})
	require.NoError(t, err)
	defer log.Sync()

	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.Config{AppName: "erpsync", LogLevel: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}
