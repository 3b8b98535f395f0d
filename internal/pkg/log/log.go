// Package log provides the component-scoped zerolog logger used by the
// push pipeline. The connection pool and the purely local components
// (store, index, refs) do not log, matching the teacher's restraint for
// on-disk operations.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger every component derives from.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// SetOutput redirects the global logger, mainly so tests can capture
// or silence it.
func SetOutput(w zerolog.ConsoleWriter) {
	Logger = zerolog.New(w).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with component, e.g.
// log.WithComponent("push") for the push pipeline.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
