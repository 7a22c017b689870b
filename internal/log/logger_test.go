package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON %q: %v", buf.String(), err)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
		{"", slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: "warn", Output: &buf})

	Get().Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected INFO to be filtered at WARN, got %q", buf.String())
	}

	Get().Warn("shown")
	out := decodeLine(t, &buf)
	if out["msg"] != "shown" {
		t.Errorf("Expected msg 'shown', got %v", out["msg"])
	}
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: "info", Format: "text", Output: &buf})

	Get().Info("plain", "k", "v")
	if !strings.Contains(buf.String(), "msg=plain") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Level: "debug", Output: &buf})

	WithComponent("test-comp").Info("hello")
	out := decodeLine(t, &buf)
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}

	buf.Reset()
	WithAction("deploy").Info("action msg")
	out = decodeLine(t, &buf)
	if out["action"] != "deploy" {
		t.Errorf("Expected action 'deploy', got %v", out["action"])
	}

	buf.Reset()
	WithRun("run-123").Info("run msg")
	out = decodeLine(t, &buf)
	if out["run_id"] != "run-123" {
		t.Errorf("Expected run_id 'run-123', got %v", out["run_id"])
	}
}
