package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Init replaces it once at daemon
// startup; everything else derives component loggers from it.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	// Level is a zerolog level name (debug, info, warn, error). Anything
	// unparsable falls back to info: a bad --log-level must never stop a
	// health daemon from coming up.
	Level string

	// JSONOutput selects machine-readable output; the default console
	// form is for interactive debugging.
	JSONOutput bool

	// Output defaults to stdout.
	Output io.Writer
}

// Init builds the root logger for the named daemon. Every line carries
// the daemon tag so hbsagent and pmond journals can be interleaved and
// still split apart. Heartbeat work is measured in milliseconds, so
// zerolog durations are rendered as integer msec rather than float
// seconds.
func Init(daemon string, cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		// sub-second stamps matter when reading pulse traces by eye
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05.000"}
	}

	Logger = zerolog.New(output).With().
		Timestamp().
		Str("daemon", daemon).
		Logger()
}

// WithComponent derives a component logger from the root.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
