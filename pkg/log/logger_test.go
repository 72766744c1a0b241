// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerBasic(t *testing.T) {
	var buf bytes.Buffer
	logger := New("trapq")
	logger.SetWriter(&buf)
	logger.SetLevel(DEBUG)

	logger.Info("pruned %d moves", 3)

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "trapq:") {
		t.Errorf("expected prefix 'trapq:', got: %s", output)
	}
	if !strings.Contains(output, "pruned 3 moves") {
		t.Errorf("expected formatted message, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetLevel(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Fatalf("expected DEBUG and INFO to be filtered, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected WARN to pass, got: %s", buf.String())
	}
	buf.Reset()

	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected ERROR to pass, got: %s", buf.String())
	}

	if logger.Enabled(INFO) {
		t.Errorf("Enabled(INFO) should be false at WARN level")
	}
	if !logger.Enabled(ERROR) {
		t.Errorf("Enabled(ERROR) should be true at WARN level")
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("steppersync")
	logger.SetWriter(&buf)
	logger.SetFormat(FormatJSON)

	logger.WithFields(Fields{"stepper": "stepper_x", "steps": 42}).Info("pass complete")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v (%s)", err, buf.String())
	}
	if entry.Level != "INFO" {
		t.Errorf("level = %q, want INFO", entry.Level)
	}
	if entry.Logger != "steppersync" {
		t.Errorf("logger = %q, want steppersync", entry.Logger)
	}
	if entry.Message != "pass complete" {
		t.Errorf("message = %q", entry.Message)
	}
	if entry.Fields["stepper"] != "stepper_x" {
		t.Errorf("stepper field = %v", entry.Fields["stepper"])
	}
	// JSON numbers decode as float64
	if entry.Fields["steps"] != float64(42) {
		t.Errorf("steps field = %v", entry.Fields["steps"])
	}
}

func TestEntryFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)

	logger.WithField("zeta", 1).WithField("alpha", 2).Warn("ordered")

	output := buf.String()
	if !strings.Contains(output, "{alpha=2, zeta=1}") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestEntryDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)

	base := logger.WithField("a", 1)
	_ = base.WithField("b", 2)
	base.Info("base")

	if strings.Contains(buf.String(), "b=2") {
		t.Errorf("child field leaked into parent entry: %s", buf.String())
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)

	logger.WithError(errString("retention violated")).Error("emergency stop")

	if !strings.Contains(buf.String(), "error=retention violated") {
		t.Errorf("expected error field, got: %s", buf.String())
	}
}

func TestWithPrefixSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New("stepgen")
	root.SetWriter(&buf)
	root.SetLevel(DEBUG)

	child := root.WithPrefix("itersolve")
	child.Debug("seek")

	output := buf.String()
	if !strings.Contains(output, "itersolve: seek") {
		t.Errorf("expected child prefix, got: %s", output)
	}
	if child.GetLevel() != DEBUG {
		t.Errorf("child level = %v, want DEBUG", child.GetLevel())
	}
}

func TestCallerInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetCaller(true)

	logger.Info("with caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller file, got: %s", buf.String())
	}

	buf.Reset()
	logger.WithField("k", "v").Info("entry caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller file for entry, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("STEPGEN_LOG_LEVEL", "error")
	t.Setenv("STEPGEN_LOG_FORMAT", "json")
	t.Setenv("STEPGEN_LOG_CALLER", "")

	var buf bytes.Buffer
	logger := New("env")
	logger.SetWriter(&buf)
	ConfigureFromEnv(logger)

	logger.Warn("filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected WARN filtered at ERROR level, got: %s", buf.String())
	}
	logger.Error("kept")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got: %s", buf.String())
	}
}

type errString string

func (e errString) Error() string { return string(e) }
