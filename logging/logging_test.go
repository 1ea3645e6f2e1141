package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestConfigureWritesJSON(t *testing.T) {
	t.Setenv(EnvLogLevel, "info")
	var buf bytes.Buffer
	Configure(Options{Level: "error", App: "unit", Out: &buf})
	defer ConfigureTests()

	log.Info().Str("session", "s1").Msg("connected")
	out := buf.String()
	if !strings.Contains(out, `"app":"unit"`) || !strings.Contains(out, `"session":"s1"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
