// Package logging constructs the zap logger used throughout sqlorch.
//
// Unlike the teacher's package-level logging singleton, the logger built
// here is never stored in a package global: main constructs exactly one
// *zap.Logger and every component receives it through its constructor.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile zap logger, switched to debug level
// when verbose is set. Mirrors the teacher's
// zap.NewProductionConfig() + zapcore.DebugLevel pattern in cmd/nerd/main.go.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and library
// callers that don't want sqlorch's output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
