package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrSystem, "storage write failed").
		WithCause(root).
		WithHTTPStatus(500).
		WithTip("check the bucket permissions").
		WithContext("put out/1: denied")

	if GetErrorCode(err) != ErrSystem {
		t.Fatalf("expected code %s, got %s", ErrSystem, GetErrorCode(err))
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.Tip == "" || err.Context == "" {
		t.Fatalf("expected tip and context to be set")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_CodeSurvivesWrapping(t *testing.T) {
	t.Parallel()

	inner := InvalidUserArgument("parameter %q does not exist", "n")
	wrapped := fmt.Errorf("preview: %w", inner)

	if !IsErrorCode(wrapped, ErrInvalidUserArgument) {
		t.Fatalf("expected wrapped error to keep its code")
	}
	e, ok := AsError(wrapped)
	if !ok || e != inner {
		t.Fatalf("expected AsError to return the inner error")
	}
	if IsErrorCode(errors.New("plain"), ErrInvalidUserArgument) {
		t.Fatalf("plain errors carry no code")
	}
}
