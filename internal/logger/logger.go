// Package logger builds the process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"listing-snapshot-api/internal/config"
)

// New returns a JSON production logger, or a console logger at debug
// level in development or when debug is enabled.
func New(cfg config.AppConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsDevelopment() || cfg.Debug {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if cfg.Debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return log.With(
		zap.String("service", cfg.Name),
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Environment),
	), nil
}
