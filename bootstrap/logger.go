package bootstrap

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/bundlegate/config"
)

// NewLogger creates the process logger. Level and format come from the
// logging section, which already carries the environment overrides.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	SetLogLevel(cfg.Level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLogLevel sets the global level; unknown levels mean info. It is applied
// again when the configuration is reloaded.
func SetLogLevel(levelStr string) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
