package log

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerFromContextDefault(t *testing.T) {
	if l := LoggerFromContext(context.Background()); l != slog.Default() {
		t.Fatalf("expected the default logger if none is stored in the context")
	}
}

func TestLoggerFromContext(t *testing.T) {
	logger := slog.Default().With(slog.String("run", "abc"))
	ctx := ContextWithLogger(context.Background(), logger)
	if l := LoggerFromContext(ctx); l != logger {
		t.Fatalf("expected the logger stored in the context")
	}
}

func TestLevel(t *testing.T) {
	defer func() { Debug = false }()
	Debug = false
	if level() != slog.LevelInfo {
		t.Errorf("expected level info, got %v", level())
	}
	Debug = true
	if level() != slog.LevelDebug {
		t.Errorf("expected level debug, got %v", level())
	}
}
