// Package logging builds the zerolog loggers used by the command-line hosts.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "SIO_LOG_LEVEL"
	EnvLogTimestamp = "SIO_LOG_TIMESTAMP"
	EnvLogNoColor   = "SIO_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects how a logger writes.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
}

// DefaultConfig returns the profile defaults before environment overrides.
func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// New returns a console logger for app configured from the profile and the
// SIO_LOG_* environment, and installs it as the global zerolog logger.
func New(app string, profile Profile) zerolog.Logger {
	cfg := DefaultConfig(profile)
	ApplyEnv(&cfg, os.Getenv)
	logger := Build(os.Stdout, app, cfg)
	log.Logger = logger
	return logger
}

// Build creates a console logger writing to out.
func Build(out io.Writer, app string, cfg Config) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	ctx := zerolog.New(output).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Str("app", app).Logger()
}

// ApplyEnv overrides cfg from the environment read through getenv.
// Unparseable values are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel maps a level name to a zerolog level. It reports false for empty
// or unknown names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
