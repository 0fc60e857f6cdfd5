package internal

import (
	"os"

	"github.com/rs/zerolog"
)

var defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().
	Timestamp().
	Str("component", "ga-slam").
	Logger()

// Logger returns the package-level orchestrator logger. Pure math packages
// (cloudpipeline, localmap, particlefilter) never call this; only the
// Orchestrator and its workers log.
func Logger() zerolog.Logger {
	return defaultLogger
}

// SetLogger overrides the package-level logger, e.g. so cmd/gaslamd can
// wire structured JSON output instead of the human-readable console writer.
func SetLogger(l zerolog.Logger) {
	defaultLogger = l
}
