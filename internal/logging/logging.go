// Package logging wraps go.uber.org/zap behind a single entry point that
// parses a level string and hands back a logger tagged with the calling
// component's name, rather than every package constructing its own
// zap.Logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New parses level ("debug", "info", "warn", "error") and returns a
// production JSON logger at that level, returned directly rather than
// installed as package-global state so callers (cmd/mimblenode, tests)
// control its lifetime.
func New(level string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: building logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything, for callers (tests, or a
// Config left at its zero value) that don't want logging wired up but
// still need a non-nil *zap.SugaredLogger to pass around.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// WithService returns log tagged with a "service" field: every log line
// from a component constructed with the result carries its own name.
func WithService(log *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return log.With("service", name)
}
