package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Log level is controlled by LOG_LEVEL
// (trace/debug/info/warn/error), defaulting to info.
var Logger zerolog.Logger

func init() {
	zerolog.SetGlobalLevel(levelFromEnv())
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
