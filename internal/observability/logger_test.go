package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies that parseLogLevel correctly parses log level
// strings from environment variables, handling case-insensitivity and whitespace.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}

	logger.Info("test message")
	_ = Flush(logger) // best-effort; can fail on /dev/stderr in test env
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scoped := zap.New(core)
	ctx := WithLogger(context.Background(), scoped)

	LoggerFromContext(ctx, zap.NewNop()).Info("scoped")
	if logs.Len() != 1 {
		t.Fatalf("expected scoped logger to be used, got %d entries", logs.Len())
	}

	if got := LoggerFromContext(context.Background(), nil); got == nil {
		t.Fatal("expected nop logger when nothing is set")
	}
	fallback := zap.NewExample()
	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger")
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID() = %q, want empty", got)
	}
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID() = %q, want abc-123", got)
	}
}

func TestFlush_NilLogger(t *testing.T) {
	if err := Flush(nil); err != nil {
		t.Errorf("Flush(nil) = %v, want nil", err)
	}
}
