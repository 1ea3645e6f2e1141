// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "ECHOSTREAM_LOG_LEVEL"

type Options struct {
	Level  string
	Pretty bool
	App    string
	Out    io.Writer
}

// Configure builds the global logger and returns it.
func Configure(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := ParseLevel(opts.Level)
	if env, ok := os.LookupEnv(EnvLogLevel); ok {
		level = ParseLevel(env)
	}
	zerolog.SetGlobalLevel(level)

	ctx := zerolog.New(out).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ConfigureTests sends logs to a discarding writer unless ECHOSTREAM_LOG_LEVEL is set.
func ConfigureTests() {
	if _, ok := os.LookupEnv(EnvLogLevel); ok {
		Configure(Options{Pretty: true, App: "test"})
		return
	}
	Configure(Options{Level: "disabled", Out: io.Discard})
}
