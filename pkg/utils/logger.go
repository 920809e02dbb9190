package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewSugaredLogger creates a sugared logger based on the verbose flag.
// Verbose selects the development config (debug level, console encoding);
// otherwise a production JSON logger with ISO8601 timestamps is built.
// The returned logger is named after the component, if one is given.
func NewSugaredLogger(verbose bool, component ...string) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if verbose {
		l, err = zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to create development logger: %w", err)
		}
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err = cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create production logger: %w", err)
		}
	}

	for _, name := range component {
		l = l.Named(name)
	}
	return l.Sugar(), nil
}
