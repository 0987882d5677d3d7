package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"friday/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type tracedTool struct {
	Tool
}

func withTrace(t Tool) Tool {
	return &tracedTool{Tool: t}
}

func (t *tracedTool) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	ctx, span := trace.Tracer().Start(ctx, "tool."+t.Name(),
		oteltrace.WithAttributes(
			attribute.String("gen_ai.operation.name", "execute_tool"),
			attribute.String("gen_ai.tool.name", t.Name()),
			attribute.String("gen_ai.tool.input", string(input)),
		),
	)
	defer span.End()

	sc := span.SpanContext()
	slog.Debug("tool span started", "tool", t.Name(), "trace_id", sc.TraceID(), "span_id", sc.SpanID())

	result, err := t.Tool.Execute(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	return result, nil
}

// Traced returns a registry whose tools each run inside a span.
func (r *Registry) Traced() *Registry {
	traced := NewRegistry()
	for name, t := range r.tools {
		traced.tools[name] = withTrace(t)
	}
	return traced
}
