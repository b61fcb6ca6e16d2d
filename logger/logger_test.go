package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConfigure_InvalidLevel(t *testing.T) {
	log := Logger()
	if err := log.Configure("nope", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}

func TestConfigure_InvalidFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid log format")
	}
}

func TestWithComponent_FieldPresent(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("cascade_engine").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "cascade_engine" {
		t.Fatalf("expected component field, got %v", entry["component"])
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected message in output")
	}
}

func TestReportCounters_ResetOnEmit(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	IncrementEventIngested()
	IncrementEventIngested()
	IncrementAlertReported()

	emitReport(log, 0)
	first := buf.String()
	if !strings.Contains(first, `"events":2`) {
		t.Fatalf("expected events counter in report, got %q", first)
	}

	buf.Reset()
	emitReport(log, 0)
	if !strings.Contains(buf.String(), `"events":0`) {
		t.Fatalf("expected counters to reset, got %q", buf.String())
	}
}
