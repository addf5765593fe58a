package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewCommandLogger returns a logger for one-shot commands: warnings and above
// unless debug is set.
func NewCommandLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}
