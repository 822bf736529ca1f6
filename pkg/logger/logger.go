package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Debug bool
}

// NewLogger creates a zap logger configured for the wallet node.
// Debug enables development mode and debug-level output.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg != nil && cfg.Debug {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}

// NewNopLogger returns a logger that discards all output (for tests)
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}
