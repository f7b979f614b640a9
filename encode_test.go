package datadog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v4"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// v03Span mirrors the verbose wire layout for independent decoding.
type v03Span struct {
	Service  string             `msgpack:"service"`
	Name     string             `msgpack:"name"`
	Resource string             `msgpack:"resource"`
	Type     string             `msgpack:"type"`
	TraceID  uint64             `msgpack:"trace_id"`
	SpanID   uint64             `msgpack:"span_id"`
	ParentID uint64             `msgpack:"parent_id"`
	Start    int64              `msgpack:"start"`
	Duration int64              `msgpack:"duration"`
	Error    int32              `msgpack:"error"`
	Meta     map[string]string  `msgpack:"meta"`
	Metrics  map[string]float64 `msgpack:"metrics"`
}

// v05Span mirrors the compact wire layout: a 12-element array whose string
// fields are table indices.
type v05Span struct {
	_msgpack struct{} `msgpack:",asArray"`

	Service  uint32
	Name     uint32
	Resource uint32
	TraceID  uint64
	SpanID   uint64
	ParentID uint64
	Start    int64
	Duration int64
	Error    int32
	Meta     map[uint32]uint32
	Metrics  map[uint32]float64
	Type     uint32
}

type v05Payload struct {
	_msgpack struct{} `msgpack:",asArray"`

	Table  []string
	Traces [][]v05Span
}

func testSpan(t *testing.T, traceIdHex, spanIdHex, name string, attrs ...attribute.KeyValue) sdktrace.ReadOnlySpan {
	t.Helper()
	start := time.Unix(1700000000, 0)
	return snapshotSpan(tracetest.SpanStub{
		Name: name,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: mustTraceId(t, traceIdHex),
			SpanID:  mustSpanId(t, spanIdHex),
		}),
		StartTime:  start,
		EndTime:    start.Add(time.Millisecond),
		Attributes: attrs,
	})
}

func TestEncodeV03(t *testing.T) {
	spans := []sdktrace.ReadOnlySpan{
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000001", "GET /users",
			attribute.String("http.method", "GET"),
			attribute.Int("http.status_code", 200),
		),
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000002", "SELECT users"),
		testSpan(t, "f0e0d0c0b0a090807060504030201000", "0000000000000003", "GET /health"),
	}

	payload, err := Version03.Encode("my-service", spans)
	require.NoError(t, err)

	var got [][]v03Span
	require.NoError(t, msgpack.Unmarshal(payload, &got))

	require.Len(t, got, 2)
	require.Len(t, got[0], 2)
	require.Len(t, got[1], 1)

	first := got[0][0]
	assert.Equal(t, "my-service", first.Service)
	assert.Equal(t, DD_OPERATION_NAME, first.Name)
	assert.Equal(t, "GET /users", first.Resource)
	assert.Equal(t, uint64(0x090a0b0c0d0e0f10), first.TraceID)
	assert.Equal(t, uint64(1), first.SpanID)
	assert.Equal(t, uint64(0), first.ParentID)
	assert.Equal(t, int64(time.Millisecond), first.Duration)
	assert.Equal(t, int32(0), first.Error)
	assert.Equal(t, map[string]string{"http.method": "GET"}, first.Meta)
	assert.Equal(t, map[string]float64{"http.status_code": 200}, first.Metrics)

	assert.Equal(t, "GET /health", got[1][0].Resource)
	assert.Equal(t, uint64(0x7060504030201000), got[1][0].TraceID)
}

func TestEncodeV03EmptyMapsPresent(t *testing.T) {
	payload, err := Version03.Encode("my-service", []sdktrace.ReadOnlySpan{
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000001", "GET /users"),
	})
	require.NoError(t, err)

	var got [][]map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(payload, &got))

	fields := got[0][0]
	// no span type, so exactly the 11 base fields, with meta and metrics
	// present even though empty
	assert.Len(t, fields, 11)
	assert.Contains(t, fields, "meta")
	assert.Contains(t, fields, "metrics")
	assert.NotContains(t, fields, "type")
}

func TestEncodeV03SpanType(t *testing.T) {
	payload, err := Version03.Encode("my-service", []sdktrace.ReadOnlySpan{
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000001", "SELECT users",
			attribute.String(DD_ATTRIBUTE_SPAN_TYPE, "sql")),
	})
	require.NoError(t, err)

	var got [][]v03Span
	require.NoError(t, msgpack.Unmarshal(payload, &got))

	assert.Equal(t, "sql", got[0][0].Type)
}

func TestEncodeV03EmptyBatch(t *testing.T) {
	payload, err := Version03.Encode("my-service", nil)
	require.NoError(t, err)

	var got [][]v03Span
	require.NoError(t, msgpack.Unmarshal(payload, &got))
	assert.Empty(t, got)
}

// referencedIndices collects every string table index a compact span record
// carries.
func referencedIndices(span v05Span) []uint32 {
	indices := []uint32{span.Service, span.Name, span.Resource, span.Type}
	for k, v := range span.Meta {
		indices = append(indices, k, v)
	}
	for k := range span.Metrics {
		indices = append(indices, k)
	}
	return indices
}

func TestEncodeV05RoundTrip(t *testing.T) {
	spans := []sdktrace.ReadOnlySpan{
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000001", "GET /users",
			attribute.String("http.method", "GET"),
			attribute.Float64("payload.ratio", 0.75),
		),
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000002", "SELECT users"),
	}

	payload, err := Version05.Encode("my-service", spans)
	require.NoError(t, err)

	var got v05Payload
	require.NoError(t, msgpack.Unmarshal(payload, &got))

	require.Len(t, got.Traces, 1)
	require.Len(t, got.Traces[0], 2)

	// the shared service string is interned exactly once
	occurrences := 0
	for _, s := range got.Table {
		if s == "my-service" {
			occurrences++
		}
	}
	assert.Equal(t, 1, occurrences)

	first, second := got.Traces[0][0], got.Traces[0][1]
	assert.Equal(t, first.Service, second.Service)

	// resolving every index against the table reproduces the original strings
	assert.Equal(t, "my-service", got.Table[first.Service])
	assert.Equal(t, DD_OPERATION_NAME, got.Table[first.Name])
	assert.Equal(t, "GET /users", got.Table[first.Resource])
	assert.Equal(t, "SELECT users", got.Table[second.Resource])
	assert.Equal(t, "", got.Table[first.Type])

	require.Len(t, first.Meta, 1)
	for k, v := range first.Meta {
		assert.Equal(t, "http.method", got.Table[k])
		assert.Equal(t, "GET", got.Table[v])
	}
	require.Len(t, first.Metrics, 1)
	for k, v := range first.Metrics {
		assert.Equal(t, "payload.ratio", got.Table[k])
		assert.Equal(t, 0.75, v)
	}

	assert.Equal(t, uint64(0x090a0b0c0d0e0f10), first.TraceID)
	assert.Equal(t, uint64(1), first.SpanID)
	assert.Equal(t, int64(time.Millisecond), first.Duration)

	// every referenced index points into the table, which holds no duplicates
	seen := make(map[string]bool)
	for _, s := range got.Table {
		assert.False(t, seen[s], "duplicate table entry %q", s)
		seen[s] = true
	}
	for _, span := range got.Traces[0] {
		for _, idx := range referencedIndices(span) {
			assert.Less(t, int(idx), len(got.Table))
		}
	}
}

func TestEncodeV05EmptyBatch(t *testing.T) {
	payload, err := Version05.Encode("my-service", nil)
	require.NoError(t, err)

	var got v05Payload
	require.NoError(t, msgpack.Unmarshal(payload, &got))
	assert.Empty(t, got.Table)
	assert.Empty(t, got.Traces)
}

func TestGroupByTraceKeepsFirstSeenOrder(t *testing.T) {
	spans := []sdktrace.ReadOnlySpan{
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000001", "a"),
		testSpan(t, "f0e0d0c0b0a090807060504030201000", "0000000000000002", "b"),
		testSpan(t, "0102030405060708090a0b0c0d0e0f10", "0000000000000003", "c"),
	}

	traces := groupByTrace("my-service", spans)

	require.Len(t, traces, 2)
	require.Len(t, traces[0], 2)
	require.Len(t, traces[1], 1)
	assert.Equal(t, "a", traces[0][0].Resource)
	assert.Equal(t, "c", traces[0][1].Resource)
	assert.Equal(t, "b", traces[1][0].Resource)
}
