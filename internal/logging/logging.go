// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/config"
)

// Setup configures the global logger from cfg. verbose forces debug level.
func Setup(cfg config.LogConfig, verbose bool) {
	SetupWriter(os.Stderr, cfg, verbose)
}

// SetupWriter is Setup with an explicit output.
func SetupWriter(w io.Writer, cfg config.LogConfig, verbose bool) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}
