// Package logger configures the process wide zerolog logger.
package logger

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component names attached to log lines.
const (
	APP     = "app"
	FLOW    = "authflow"
	GATEWAY = "gateway"
	MOCK    = "mockserver"
	SESSION = "session"
	STORAGE = "storage"
)

// Setup sets the global level and output. DEV uses a human readable console
// writer; every other environment writes JSON lines. An unknown level falls
// back to info.
func Setup(env, level string, out io.Writer) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if strings.EqualFold(env, "DEV") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
