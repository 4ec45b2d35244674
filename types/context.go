package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID    contextKey = "trace_id"
	keyFlowID     contextKey = "flow_id"
	keyRunID      contextKey = "run_id"
	keyOperatorID contextKey = "operator_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithFlowID adds the published flow ID to context.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, keyFlowID, flowID)
}

// FlowID extracts the flow ID from context.
func FlowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyFlowID).(string)
	return v, ok && v != ""
}

// WithRunID adds run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithOperatorID adds the executing operator's ID to context.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, keyOperatorID, operatorID)
}

// OperatorID extracts the executing operator's ID from context.
func OperatorID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyOperatorID).(string)
	return v, ok && v != ""
}
