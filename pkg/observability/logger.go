// Package observability sets up logging and Prometheus metrics for the
// meter binaries.
package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const EnvLogLevel = "IEC_METER_LOG_LEVEL"

// InitLogger installs a console logger tagged with app as the global
// zerolog logger. The level comes from IEC_METER_LOG_LEVEL, info when
// unset.
func InitLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to zerolog. "verbose" and "very_verbose"
// are accepted as debug and trace.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "very_verbose":
		return zerolog.TraceLevel, true
	case "debug", "verbose":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "none", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
