package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerOpts struct {
	Level       string
	Development bool
}

var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// New creates a new logger
func New(opts LoggerOpts) *zap.Logger {
	config := zap.NewProductionConfig()

	if opts.Development {
		config = zap.NewDevelopmentConfig()
	}

	SetLevel(opts.Level)
	config.Level = level

	logger, err := config.Build()

	if err != nil {
		panic(err)
	}

	return logger
}

// SetLevel changes the level of every logger built by New, falls back to info on unknown levels.
func SetLevel(l string) {
	if l == "" {
		l = "info"
	}

	parsed, err := zapcore.ParseLevel(l)

	if err != nil {
		parsed = zap.InfoLevel
	}

	level.SetLevel(parsed)
}

// Level returns the current level.
func Level() zapcore.Level {
	return level.Level()
}
