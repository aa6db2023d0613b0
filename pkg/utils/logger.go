package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig selects the relayer's log output. Non-empty identity fields
// are attached to every entry.
type LoggerConfig struct {
	// Verbose switches to human-readable debug output.
	Verbose bool

	Command     string
	NetworkID   string
	Environment string
}

// NewSugaredLogger creates the relayer logger. Entries go to stderr so that
// stdout only carries command output such as the resume command.
func NewSugaredLogger(cfg LoggerConfig) (*zap.SugaredLogger, error) {
	l, err := zapConfig(cfg).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.Sugar(), nil
}

func zapConfig(cfg LoggerConfig) zap.Config {
	var zc zap.Config
	if cfg.Verbose {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// A single run logs few entries; keep all of them.
		zc.Sampling = nil
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	fields := map[string]any{"service": "near-relayer"}
	for k, v := range map[string]string{
		"command":     cfg.Command,
		"nearNetwork": cfg.NetworkID,
		"environment": cfg.Environment,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	zc.InitialFields = fields
	return zc
}
