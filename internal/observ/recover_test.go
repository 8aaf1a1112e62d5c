package observ

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestWrapWithRecovery_Panic(t *testing.T) {
	err := WrapWithRecovery(context.Background(), zap.NewNop(), "thank_you_emails", func(ctx context.Context) error {
		panic("boom")
	})

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.Operation != "thank_you_emails" || pe.Value != "boom" {
		t.Errorf("unexpected panic error: %+v", pe)
	}
}

func TestWrapWithRecovery_PassesThroughError(t *testing.T) {
	want := errors.New("plain failure")
	err := WrapWithRecovery(context.Background(), zap.NewNop(), "op", func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("development", "not-a-level", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be disabled at the fallback level")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be enabled")
	}
}
