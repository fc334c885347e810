package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"verbose", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestApplyEnvOverridesProfile(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:     "error",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "not-a-bool",
	}
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("level = %v, want error", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatal("timestamp should be disabled by env")
	}
	if cfg.NoColor {
		t.Fatal("unparseable NOCOLOR must keep the default")
	}
}

func TestBuildFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Build(&buf, "sio-test", Config{Level: zerolog.WarnLevel, NoColor: true})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "sio-test") {
		t.Fatalf("warn line missing or untagged: %q", out)
	}
}
