package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Level(t *testing.T) {
	logger, err := New("production", "warn")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.InfoLevel))
	require.True(t, logger.Core().Enabled(zap.WarnLevel))

	dev, err := New("development", "")
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zap.DebugLevel))

	junk, err := New("production", "loud")
	require.NoError(t, err)
	require.True(t, junk.Core().Enabled(zap.InfoLevel))
	require.False(t, junk.Core().Enabled(zap.DebugLevel))
}
