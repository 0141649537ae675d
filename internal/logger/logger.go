// Package logger provides the process-wide structured logger and a small
// set of component-scoped constructors used throughout the gateway.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, configured by Initialize. It defaults
// to a plain stderr writer so packages that log before Initialize runs
// (notably in tests) never hit a nil writer.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Initialize configures the global logger. level is a zerolog level name
// ("debug", "info", ...); pretty switches between console and JSON output.
func Initialize(service string, level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", service).
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// WebSocket returns a logger scoped to connection-actor events.
func WebSocket() *zerolog.Logger {
	l := Log.With().Str("component", "websocket").Logger()
	return &l
}

// Router returns a logger scoped to routing/fan-out events.
func Router() *zerolog.Logger {
	l := Log.With().Str("component", "router").Logger()
	return &l
}

// Session returns a logger scoped to session store/token events.
func Session() *zerolog.Logger {
	l := Log.With().Str("component", "session").Logger()
	return &l
}

// State returns a logger scoped to the session/state manager.
func State() *zerolog.Logger {
	l := Log.With().Str("component", "statemgr").Logger()
	return &l
}

// Proxy returns a logger scoped to the proxy bridge.
func Proxy() *zerolog.Logger {
	l := Log.With().Str("component", "proxybridge").Logger()
	return &l
}

// HTTP returns a logger scoped to HTTP request handling.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
