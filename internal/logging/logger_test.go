package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if actual := ParseLevel(input); actual != expected {
			t.Fatalf("ParseLevel(%q) = %s, expected %s", input, actual, expected)
		}
	}
}

func TestNewLoggerWithFormat(t *testing.T) {
	logger, err := NewLoggerWithFormat("warn", FormatConsole)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected error to be enabled at warn level")
	}

	if _, err := NewLoggerWithFormat("info", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
