package datadog

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ApiVersion selects the trace-agent ingestion API, and with it the wire
// encoding of the payload. The set of versions is closed; the variant is
// picked once per exporter, never per span.
type ApiVersion int

const (
	// Version03 encodes every span as a self-contained string-keyed msgpack
	// map, nested in an array of per-trace arrays.
	Version03 ApiVersion = iota

	// Version05 encodes a deduplicated string table followed by spans that
	// reference it by index. Smaller payloads carrying the same information.
	Version05
)

// Path returns the URL path suffix of the agent endpoint ingesting this
// version, appended to the configured agent endpoint.
func (v ApiVersion) Path() string {
	if v == Version03 {
		return "/v0.3/traces"
	}
	return "/v0.5/traces"
}

// ContentType returns the MIME type announced for this version's payload.
// The agent accepts msgpack on every /vX.Y/traces endpoint; the path, not
// the media type, tells it which layout to expect.
func (v ApiVersion) ContentType() string {
	return "application/msgpack"
}

// Encode serializes a batch of read-only spans into this version's payload.
// It is a pure function of its arguments: each call groups the batch by
// trace, converts the spans and assembles a fresh buffer, so concurrent
// exports share no state.
func (v ApiVersion) Encode(serviceName string, spans []sdktrace.ReadOnlySpan) ([]byte, error) {
	traces := groupByTrace(serviceName, spans)
	if v == Version03 {
		return encodeV03(traces)
	}
	return encodeV05(traces)
}

// ddSpan is the agent-native representation of one span, produced by
// convertSpan and discarded once serialized.
type ddSpan struct {
	Service  string
	Name     string
	Resource string
	Type     string
	TraceID  uint64
	SpanID   uint64
	ParentID uint64
	Start    int64
	Duration int64
	Error    int32
	Meta     map[string]string
	Metrics  map[string]float64
}
