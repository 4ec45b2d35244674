package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := FlowID(ctx); ok {
		t.Fatalf("empty context must not carry a flow ID")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithFlowID(ctx, "flow")
	if got, ok := FlowID(ctx); !ok || got != "flow" {
		t.Fatalf("FlowID mismatch: %v %v", got, ok)
	}

	ctx = WithRunID(ctx, "run")
	if got, ok := RunID(ctx); !ok || got != "run" {
		t.Fatalf("RunID mismatch: %v %v", got, ok)
	}

	ctx = WithOperatorID(ctx, "op")
	if got, ok := OperatorID(ctx); !ok || got != "op" {
		t.Fatalf("OperatorID mismatch: %v %v", got, ok)
	}

	ctx = WithRunID(ctx, "")
	if _, ok := RunID(ctx); ok {
		t.Fatalf("empty RunID must be reported as absent")
	}
}
