package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, level LogLevel, format LogFormat) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestNewStructuredLogger(t *testing.T) {
	logger, _ := newTestLogger(t, DEBUG, FormatText)
	if logger.GetLevel() != DEBUG {
		t.Errorf("Expected DEBUG level, got %v", logger.GetLevel())
	}

	if _, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO}); err == nil {
		t.Error("Expected error for nil output")
	}
}

func TestLogLevels(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	logger.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("Info message content not found in output")
	}

	logger.SetLevel(DEBUG)
	buf.Reset()
	logger.Debugf("debug %d", 42)
	if !strings.Contains(buf.String(), "debug 42") {
		t.Error("Debug message not logged at DEBUG level")
	}
}

func TestStructuredFieldsAreSorted(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)

	logger.WithComponent("cache").Info("evicted", map[string]interface{}{
		"key":   "/a.png",
		"bytes": 400,
		"err":   fmt.Errorf("boom"),
	})

	out := buf.String()
	if !strings.Contains(out, "{bytes=400, component=cache, err=boom, key=/a.png}") {
		t.Errorf("unexpected field rendering: %q", out)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	parent, buf := newTestLogger(t, INFO, FormatText)
	child := parent.WithField("generation", 7)

	parent.Info("parent")
	if strings.Contains(buf.String(), "generation") {
		t.Error("parent logger picked up child field")
	}

	buf.Reset()
	child.Info("child")
	if !strings.Contains(buf.String(), "generation=7") {
		t.Error("child field missing")
	}

	// Level changes are shared with children.
	parent.SetLevel(ERROR)
	buf.Reset()
	child.Info("suppressed")
	if buf.Len() != 0 {
		t.Error("child should follow parent level")
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatJSON)
	logger.Warn("pressure", map[string]interface{}{"level": "high"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if entry.Level != "WARN" || entry.Message != "pressure" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["level"] != "high" {
		t.Errorf("expected field level=high, got %v", entry.Fields["level"])
	}
}

func TestComponentLevels(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)
	logger.SetComponentLevel("prefetch", WARN)

	logger.WithComponent("prefetch").Info("quiet")
	if buf.Len() != 0 {
		t.Error("component level should suppress INFO")
	}
	logger.WithComponent("cache").Info("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Error("other components should use global level")
	}
}

func TestCaller(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO, Output: &buf, IncludeCaller: true})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("with caller")
	if !strings.Contains(buf.String(), "structured_logger_test.go:") {
		t.Errorf("caller not reported as test file: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"trace", TRACE, false},
		{"DEBUG", DEBUG, false},
		{" info ", INFO, false},
		{"warning", WARN, false},
		{"ERROR", ERROR, false},
		{"fatal", FATAL, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	if f, err := ParseLogFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseLogFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseLogFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseLogFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing")
	if logger.IsEnabled(ERROR) {
		t.Error("nop logger should only enable FATAL")
	}
}
