package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "json", &buf)

	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("expected JSON output with msg field, got: %s", output)
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		name         string
		configLevel  string
		logLevel     slog.Level
		shouldAppear bool
	}{
		{"debug at debug level", "debug", slog.LevelDebug, true},
		{"debug at info level", "info", slog.LevelDebug, false},
		{"info at info level", "info", slog.LevelInfo, true},
		{"warn at error level", "error", slog.LevelWarn, false},
		{"error at error level", "error", slog.LevelError, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tc.configLevel, "text", &buf)
			logger.Log(nil, tc.logLevel, "test message")

			hasOutput := buf.Len() > 0
			if hasOutput != tc.shouldAppear {
				t.Errorf("level %s at config %s: expected shouldAppear=%v, got output=%v",
					tc.logLevel, tc.configLevel, tc.shouldAppear, hasOutput)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input); got != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger == nil {
		t.Fatal("NopLogger returned nil")
	}
	logger.Info("this should be discarded")
}

func TestLoggerWithMeshAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("relayed packet",
		KeyPeerID, "ABCDEF0123456789",
		KeyTransport, "direct",
		KeyTTL, 63,
	)

	output := buf.String()
	if !strings.Contains(output, "peer_id=ABCDEF0123456789") {
		t.Errorf("expected peer_id attribute, got: %s", output)
	}
	if !strings.Contains(output, "transport=direct") {
		t.Errorf("expected transport attribute, got: %s", output)
	}
}
