package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "debug", Writer: &buf, Component: "engine"})
	lg.Debug("cascade", "deleted", 3)

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("expected DEBUG level, got %s", out)
	}
	if !strings.Contains(out, `"component":"engine"`) {
		t.Fatalf("expected component field, got %s", out)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	if got := ParseLevel("verbose"); got != slog.LevelInfo {
		t.Fatalf("expected info, got %v", got)
	}
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "verbose", Writer: &buf})
	lg.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record should be filtered, got %s", buf.String())
	}
}
