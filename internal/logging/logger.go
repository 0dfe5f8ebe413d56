// Package logging sets up structured logging for the runtime core:
// zerolog, console output for development, JSON for production. Loggers
// are threaded explicitly through the shell and plugin contexts instead of
// living behind a package-level global, so two hosts embedded in one
// process never share a sink.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Initialize builds a base logger tagged with the given service name.
// level parses with zerolog.ParseLevel, defaulting to Info on failure.
func Initialize(service string, level string, pretty bool) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var base zerolog.Logger
	if pretty {
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	log := base.With().Str("service", service).Logger()
	log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
	return log
}

// Component returns a sub-logger tagged with the given component name
// (eventbus, locator, pluginrt, ...).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
