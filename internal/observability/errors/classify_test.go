package errors

import (
	"fmt"
	"testing"

	apperrors "github.com/ragline/ingestd/internal/errors"
)

type dialBlip struct{}

func (dialBlip) Error() string { return "dial blipped" }

func TestClassifyAppErrorCodes(t *testing.T) {
	t.Parallel()

	if got := Classify(apperrors.Overflow("pool full")); got != "overflow" {
		t.Fatalf("Classify overflow = %q", got)
	}
	wrapped := fmt.Errorf("dispatch: %w", apperrors.Timeoutf("deadline"))
	if got := Classify(wrapped); got != "timeout" {
		t.Fatalf("Classify wrapped timeout = %q", got)
	}
}

func TestClassifyFallsBackToTypeName(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("connect: %w", dialBlip{})
	if got := Classify(err); got != "errors_dialblip" {
		t.Fatalf("Classify plain error = %q", got)
	}
	if got := Classify(nil); got != "" {
		t.Fatalf("Classify(nil) = %q, want empty", got)
	}
}
