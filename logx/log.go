package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the shared logger used throughout the project.
var Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	Configure(os.Getenv("LOG_LEVEL"))
}

// Configure sets the global log level. Unknown values fall back to info.
func Configure(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger tagged with a component name.
func With(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}
