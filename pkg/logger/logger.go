package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Debug bool
}

// NewLogger builds a JSON production logger, or a console development logger
// at debug level when config.Debug is set.
func NewLogger(config *LoggerConfig) (*zap.Logger, error) {
	if config == nil {
		config = &LoggerConfig{}
	}

	var c zap.Config
	if config.Debug {
		c = zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		c = zap.NewProductionConfig()
		c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	c.DisableStacktrace = !config.Debug

	return c.Build()
}
