package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		" warn ":   zerolog.WarnLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Level: "debug"}, &buf), "automation")
	logger.Debug().Str("test_id", "t-1").Msg("rules evaluated")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["component"] != "automation" || line["test_id"] != "t-1" || line["level"] != "debug" {
		t.Fatalf("line = %v", line)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "console", Level: "info"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "visible") {
		t.Fatalf("output = %q", out)
	}
}
