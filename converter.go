package datadog

import (
	"encoding/binary"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DD_OPERATION_NAME is the operation name stamped on every exported span.
	// Datadog expects a service to have a single primary operation name, with
	// granularity carried by the resource instead, so the caller-supplied
	// span name goes into ddSpan.Resource and the name identifies the tracing
	// provider.
	DD_OPERATION_NAME = "opentelemetry"

	// DD_ATTRIBUTE_SPAN_TYPE is the span attribute read into the agent's
	// span type field, which alters how spans are rendered in the web UI.
	DD_ATTRIBUTE_SPAN_TYPE = "span.type"

	// DD_META_ERROR_MSG is the meta key holding a span's status message.
	DD_META_ERROR_MSG = "error.msg"
)

// convertTraceId reduces a 128-bit OTel trace id to the agent's 64-bit id
// space by keeping the low-order 8 bytes. Lossy on purpose: the v0.x trace
// protocol has no room for the upper half, and changing the rule would break
// correlation with other clients of the same agent.
func convertTraceId(traceId trace.TraceID) uint64 {
	return binary.BigEndian.Uint64(traceId[8:16])
}

// convertSpanId converts an [8]byte span id into the agent's uint64 form.
func convertSpanId(spanId trace.SpanID) uint64 {
	return binary.BigEndian.Uint64(spanId[:])
}

// convertSpan maps one read-only OTel span onto the agent-native ddSpan.
// It cannot fail: malformed timing (end before start) clamps the duration to
// zero instead of rejecting the span.
func convertSpan(otelSpan sdktrace.ReadOnlySpan, serviceName string) ddSpan {
	dd := ddSpan{
		Service:  serviceName,
		Name:     DD_OPERATION_NAME,
		Resource: otelSpan.Name(),
		TraceID:  convertTraceId(otelSpan.SpanContext().TraceID()),
		SpanID:   convertSpanId(otelSpan.SpanContext().SpanID()),
		Start:    otelSpan.StartTime().UnixNano(),
	}

	if otelSpan.Parent().SpanID().IsValid() {
		dd.ParentID = convertSpanId(otelSpan.Parent().SpanID())
	}

	if d := otelSpan.EndTime().Sub(otelSpan.StartTime()).Nanoseconds(); d > 0 {
		dd.Duration = d
	}

	dd.Meta, dd.Metrics = splitAttributes(otelSpan.Attributes())

	for _, attr := range otelSpan.Attributes() {
		if string(attr.Key) == DD_ATTRIBUTE_SPAN_TYPE && attr.Value.Type() == attribute.STRING {
			dd.Type = attr.Value.AsString()
		}
	}

	if otelSpan.Status().Code == codes.Error {
		dd.Error = 1
	}
	if desc := otelSpan.Status().Description; desc != "" {
		dd.Meta[DD_META_ERROR_MSG] = desc
	}

	return dd
}

// splitAttributes partitions span attributes by value type: integers and
// floats become metrics, everything else is rendered into meta. Every key
// lands in exactly one of the two maps.
func splitAttributes(attrs []attribute.KeyValue) (map[string]string, map[string]float64) {
	meta := make(map[string]string, len(attrs))
	metrics := make(map[string]float64)

	for _, attr := range attrs {
		switch attr.Value.Type() {
		case attribute.INT64:
			metrics[string(attr.Key)] = float64(attr.Value.AsInt64())
		case attribute.FLOAT64:
			metrics[string(attr.Key)] = attr.Value.AsFloat64()
		case attribute.BOOL:
			meta[string(attr.Key)] = strconv.FormatBool(attr.Value.AsBool())
		case attribute.STRING:
			meta[string(attr.Key)] = attr.Value.AsString()
		default:
			meta[string(attr.Key)] = attr.Value.Emit()
		}
	}

	return meta, metrics
}
