package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestZapConfig(t *testing.T) {
	prod := zapConfig(LoggerConfig{Command: "transfer", NetworkID: "testnet"})
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, zapcore.InfoLevel, prod.Level.Level())
	assert.Nil(t, prod.Sampling)
	assert.Equal(t, []string{"stderr"}, prod.OutputPaths)
	assert.Equal(t, map[string]any{
		"service":     "near-relayer",
		"command":     "transfer",
		"nearNetwork": "testnet",
	}, prod.InitialFields)

	dev := zapConfig(LoggerConfig{Verbose: true})
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.DebugLevel, dev.Level.Level())
	assert.Equal(t, map[string]any{"service": "near-relayer"}, dev.InitialFields)
}

func TestNewSugaredLogger(t *testing.T) {
	sugar, err := NewSugaredLogger(LoggerConfig{Environment: "dev"})
	require.NoError(t, err)
	require.NotNil(t, sugar)
	assert.False(t, sugar.Desugar().Core().Enabled(zapcore.DebugLevel))
}
