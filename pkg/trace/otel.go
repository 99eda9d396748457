package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTelSink records each Record as an event on the span carried by ctx.
// Records emitted outside a recording span are dropped.
type OTelSink struct{}

// Emit adds r as a span event named "<stage>.<event>".
func (OTelSink) Emit(ctx context.Context, r Record) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("isopipe.stage", r.Stage),
	}
	if r.RunID != "" {
		attrs = append(attrs, attribute.String("isopipe.run_id", r.RunID))
	}
	if r.Node != "" {
		attrs = append(attrs, attribute.String("isopipe.node", r.Node))
	}
	if r.Edge != "" {
		attrs = append(attrs, attribute.String("isopipe.edge", r.Edge))
	}
	if r.Msg != "" {
		attrs = append(attrs, attribute.String("isopipe.msg", r.Msg))
	}
	for _, k := range sortedKeys(r.Attrs) {
		attrs = append(attrs, toAttribute("isopipe."+k, r.Attrs[k]))
	}
	span.AddEvent(r.Stage+"."+r.Event, oteltrace.WithAttributes(attrs...))
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return attribute.String(key, x)
	case bool:
		return attribute.Bool(key, x)
	case int:
		return attribute.Int(key, x)
	case int64:
		return attribute.Int64(key, x)
	case float64:
		return attribute.Float64(key, x)
	case fmt.Stringer:
		return attribute.String(key, x.String())
	}
	return attribute.String(key, fmt.Sprint(v))
}
