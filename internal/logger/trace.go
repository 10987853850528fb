package logger

import "context"

type traceKey struct{}

// TraceContext captures the identifiers of one acquisition for log correlation.
type TraceContext struct {
	RunID    string
	TargetID string
	Stage    string
}

// ContextWithTrace returns a derived context carrying the provided trace metadata.
func ContextWithTrace(ctx context.Context, trace TraceContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, trace)
}

// ContextWithStage returns ctx with the stage name replaced in its trace metadata.
func ContextWithStage(ctx context.Context, stage string) context.Context {
	trace := TraceFromContext(ctx)
	trace.Stage = stage
	return ContextWithTrace(ctx, trace)
}

// TraceFromContext extracts a TraceContext from ctx.
func TraceFromContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	if trace, ok := ctx.Value(traceKey{}).(TraceContext); ok {
		return trace
	}
	return TraceContext{}
}

func traceFieldsFromContext(ctx context.Context) []Field {
	trace := TraceFromContext(ctx)
	return trace.fields()
}

func (t TraceContext) fields() []Field {
	var fields []Field
	if t.RunID != "" {
		fields = append(fields, String("run_id", t.RunID))
	}
	if t.TargetID != "" {
		fields = append(fields, String("target", t.TargetID))
	}
	if t.Stage != "" {
		fields = append(fields, String("stage", t.Stage))
	}
	return fields
}
