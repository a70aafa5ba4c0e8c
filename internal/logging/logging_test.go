package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("pipeline")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("clip attached", "clipId", "clip-1")

	out := buf.String()
	if strings.Contains(out, `msg="INFO clip attached`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=\"clip attached\"") {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=pipeline") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "clipId=clip-1") {
		t.Fatalf("expected clipId field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("pipeline")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("gopindex").Info("quarantine set", "clipId", "clip-2")

	out := buf.String()
	if !strings.Contains(out, `"component":"gopindex"`) {
		t.Fatalf("expected json component field, got: %s", out)
	}
}
