/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func parseLevel(level string) (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// NewLogger builds a zap logger from cfg. Development loggers write
// human-readable console output; production loggers write JSON.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.AddStacktrace(zapcore.FatalLevel))
}
