package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("logger should not be nil")
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestRequestID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "req-123")
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		t.Fatal("expected request id to exist")
	}
	if requestID != "req-123" {
		t.Fatalf("request id=%q, want=%q", requestID, "req-123")
	}
}

func TestCallID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithCallID(context.TODO(), "CA456")
	callID, ok := CallIDFromContext(ctx)
	if !ok {
		t.Fatal("expected call id to exist")
	}
	if callID != "CA456" {
		t.Fatalf("call id=%q, want=%q", callID, "CA456")
	}

	if _, ok := CallIDFromContext(WithCallID(context.Background(), "")); ok {
		t.Fatal("empty call id should be treated as missing")
	}
}

func TestRequestID_MissingValue(t *testing.T) {
	t.Parallel()

	_, ok := RequestIDFromContext(context.Background())
	if ok {
		t.Fatal("expected request id to be missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	ctx := WithCallID(WithRequestID(context.Background(), "req-789"), "CA789")
	loggerWithContext := WithContextLogger(baseLogger, ctx)
	loggerWithContext.Info("message with context")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}

	fields := entries[0].ContextMap()
	if got := fields["requestId"]; got != "req-789" {
		t.Fatalf("requestId=%v, want=%q", got, "req-789")
	}
	if got := fields["providerCallId"]; got != "CA789" {
		t.Fatalf("providerCallId=%v, want=%q", got, "CA789")
	}
}

func TestWithContextLogger_NoContextValues(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	loggerWithContext := WithContextLogger(baseLogger, context.Background())
	loggerWithContext.Info("message without context")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}

	if len(entries[0].ContextMap()) != 0 {
		t.Fatalf("expected no context fields, got %v", entries[0].ContextMap())
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}
