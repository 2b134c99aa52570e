package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Config selects the log level, format and optional rotating file output.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
}

// Setup builds the global logger from cfg and returns the writer it logs to.
func Setup(cfg Config) (io.Writer, error) {
	level, err := ToLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}
	if cfg.Format != "json" && cfg.File == "" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	SetGlobalLogger(zl)
	return w, nil
}

// ToLogLevel parses "debug", "info", "warn" or "error". Empty means info.
func ToLogLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log.level", "unknown log level", level)
	}
}
