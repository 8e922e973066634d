// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the encoder, level and optional rotated file output.
type Config struct {
	Development bool
	// Level is a zap level name; empty keeps the preset's default.
	Level string
	// File, when set, receives a JSON copy of every entry.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	logger, _, err := Build(Config{Development: development})
	return logger, err
}

// Build constructs a logger from cfg. The returned closer releases the log
// file and must be called after the final Sync.
func Build(cfg Config) (*zap.Logger, io.Closer, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg.DisableStacktrace = false
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    positiveOr(cfg.MaxSizeMB, 100),
		MaxBackups: positiveOr(cfg.MaxBackups, 3),
		MaxAge:     positiveOr(cfg.MaxAgeDays, 28),
		Compress:   cfg.Compress,
	}
	fileEncoder := zap.NewProductionEncoderConfig()
	fileEncoder.TimeKey = "ts"
	fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(rotator), zcfg.Level)
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return logger, rotator, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
