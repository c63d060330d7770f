package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by recording each event as an instantaneous
// OpenTelemetry span, named after event.Msg ("step_dispatched",
// "step_failed", "step_retrying", ...).
//
// Grounded on the teacher project's OTelEmitter, adapted to the attack-graph
// Event shape: span attributes carry Phase/Kind/Category/StatusCode instead
// of the teacher's concurrency step_id/order_key/attempt triple, since this
// engine's steps execute one at a time with no replay ordering to track.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter from tracer, e.g.
// otel.Tracer("attackgraph").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit starts and immediately ends a span for event.
func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if errText, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errText)
		span.RecordError(fmt.Errorf("%s", errText))
	} else if event.Category != "" && event.Category != "TRANSIENT" {
		span.SetStatus(codes.Error, event.Category)
	}
}

// EmitBatch starts and ends one span per event, in order.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)
		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)
		if errText, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, errText)
			span.RecordError(fmt.Errorf("%s", errText))
		} else if event.Category != "" && event.Category != "TRANSIENT" {
			span.SetStatus(codes.Error, event.Category)
		}
		span.End()
	}
	return nil
}

// Flush force-flushes the global tracer provider, if it supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	attrs := []attribute.KeyValue{
		attribute.String("attackgraph.run_id", event.RunID),
		attribute.Int("attackgraph.step_order", event.StepOrder),
	}
	if event.Phase != "" {
		attrs = append(attrs, attribute.String("attackgraph.phase", event.Phase))
	}
	if event.Kind != "" {
		attrs = append(attrs, attribute.String("attackgraph.step_kind", event.Kind))
	}
	if event.Category != "" {
		attrs = append(attrs, attribute.String("attackgraph.category", event.Category))
	}
	if event.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("attackgraph.status_code", event.StatusCode))
	}
	if event.DurationMS != 0 {
		attrs = append(attrs, attribute.Int64("attackgraph.duration_ms", event.DurationMS))
	}
	span.SetAttributes(attrs...)
}

// addMetadataAttributes converts event.Meta into span attributes, mapping
// compilation/cost fields onto OpenTelemetry-conventional names.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	for key, value := range meta {
		attrKey := key
		switch key {
		case "tokens_in":
			attrKey = "attackgraph.llm.tokens_in"
		case "tokens_out":
			attrKey = "attackgraph.llm.tokens_out"
		case "cost_usd":
			attrKey = "attackgraph.llm.cost_usd"
		case "model":
			attrKey = "attackgraph.llm.model"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
