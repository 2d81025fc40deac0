// Package logging configures the process-wide zerolog logger and hands
// out component-scoped child loggers, replacing the ad-hoc
// log.Printf("[Component] ...") prefixing the rest of the codebase
// used to rely on.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger from LOG_LEVEL/LOG_FORMAT
// style inputs and returns it. Call once from main.
func Init(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w = os.Stdout
	if pretty {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		logger := zerolog.New(cw).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &logger
		return logger
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Component returns a child logger tagged with the given subsystem
// name, the structured equivalent of the teacher's "[Component]"
// log.Printf prefix.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
