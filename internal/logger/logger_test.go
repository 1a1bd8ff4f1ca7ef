package logger

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jensengpt/internal/config"
)

func TestSetup(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	require.NoError(t, Setup(config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, ok := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, ok)

	require.NoError(t, Setup(config.LogConfig{}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	_, ok = log.StandardLogger().Formatter.(*log.TextFormatter)
	assert.True(t, ok)

	assert.Error(t, Setup(config.LogConfig{Level: "loud"}))
}
