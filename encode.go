package datadog

import (
	"fmt"
	"math"
	"sort"

	"github.com/tinylib/msgp/msgp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// groupByTrace converts the batch and buckets the spans by their full
// 128-bit trace id. Traces keep first-seen order so repeated encodes of the
// same batch produce identical bytes.
func groupByTrace(serviceName string, spans []sdktrace.ReadOnlySpan) [][]ddSpan {
	index := make(map[trace.TraceID]int, len(spans))
	traces := make([][]ddSpan, 0, len(spans))

	for _, s := range spans {
		traceId := s.SpanContext().TraceID()
		i, ok := index[traceId]
		if !ok {
			i = len(traces)
			index[traceId] = i
			traces = append(traces, nil)
		}
		traces[i] = append(traces[i], convertSpan(s, serviceName))
	}

	return traces
}

// checkLen guards the count prefixes: msgpack headers carry at most 32-bit
// counts, and a payload that cannot state its own length correctly must not
// leave the process. Failing here fails the whole batch, no partial payload.
func checkLen(what string, n int) error {
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%s has %d entries, exceeding the 32-bit count prefix", what, n)
	}
	return nil
}

// sortedKeys returns the map's keys in ascending order. Both meta and
// metrics are unordered internally; serialization sorts so the same input
// always yields the same bytes.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodeV03 assembles the verbose payload: an array of per-trace arrays of
// self-contained span maps.
func encodeV03(traces [][]ddSpan) ([]byte, error) {
	if err := checkLen("trace batch", len(traces)); err != nil {
		return nil, err
	}

	buf := msgp.AppendArrayHeader(nil, uint32(len(traces)))
	for _, spans := range traces {
		if err := checkLen("trace", len(spans)); err != nil {
			return nil, err
		}
		buf = msgp.AppendArrayHeader(buf, uint32(len(spans)))
		for _, span := range spans {
			var err error
			if buf, err = appendSpanV03(buf, span); err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

func appendSpanV03(buf []byte, span ddSpan) ([]byte, error) {
	if err := checkLen("span meta", len(span.Meta)); err != nil {
		return nil, err
	}
	if err := checkLen("span metrics", len(span.Metrics)); err != nil {
		return nil, err
	}

	fields := uint32(11)
	if span.Type != "" {
		fields = 12
	}
	buf = msgp.AppendMapHeader(buf, fields)
	if span.Type != "" {
		buf = msgp.AppendString(buf, "type")
		buf = msgp.AppendString(buf, span.Type)
	}
	buf = msgp.AppendString(buf, "service")
	buf = msgp.AppendString(buf, span.Service)
	buf = msgp.AppendString(buf, "name")
	buf = msgp.AppendString(buf, span.Name)
	buf = msgp.AppendString(buf, "resource")
	buf = msgp.AppendString(buf, span.Resource)
	buf = msgp.AppendString(buf, "trace_id")
	buf = msgp.AppendUint64(buf, span.TraceID)
	buf = msgp.AppendString(buf, "span_id")
	buf = msgp.AppendUint64(buf, span.SpanID)
	buf = msgp.AppendString(buf, "parent_id")
	buf = msgp.AppendUint64(buf, span.ParentID)
	buf = msgp.AppendString(buf, "start")
	buf = msgp.AppendInt64(buf, span.Start)
	buf = msgp.AppendString(buf, "duration")
	buf = msgp.AppendInt64(buf, span.Duration)
	buf = msgp.AppendString(buf, "error")
	buf = msgp.AppendInt32(buf, span.Error)

	// meta and metrics are always present, empty or not, so the agent sees a
	// constant field set.
	buf = msgp.AppendString(buf, "meta")
	buf = msgp.AppendMapHeader(buf, uint32(len(span.Meta)))
	for _, k := range sortedKeys(span.Meta) {
		buf = msgp.AppendString(buf, k)
		buf = msgp.AppendString(buf, span.Meta[k])
	}
	buf = msgp.AppendString(buf, "metrics")
	buf = msgp.AppendMapHeader(buf, uint32(len(span.Metrics)))
	for _, k := range sortedKeys(span.Metrics) {
		buf = msgp.AppendString(buf, k)
		buf = msgp.AppendFloat64(buf, span.Metrics[k])
	}

	return buf, nil
}

// encodeV05 assembles the compact payload: a two-element array holding the
// string table and the traces, whose span records reference the table by
// index. Records are buffered while the table fills up, because the table
// must lead the payload but is only complete once the last record has
// interned its strings.
func encodeV05(traces [][]ddSpan) ([]byte, error) {
	if err := checkLen("trace batch", len(traces)); err != nil {
		return nil, err
	}

	table := newStringTable()
	records := msgp.AppendArrayHeader(nil, uint32(len(traces)))
	for _, spans := range traces {
		if err := checkLen("trace", len(spans)); err != nil {
			return nil, err
		}
		records = msgp.AppendArrayHeader(records, uint32(len(spans)))
		for _, span := range spans {
			var err error
			if records, err = appendSpanV05(records, span, table); err != nil {
				return nil, err
			}
		}
	}

	strings := table.drain()
	if err := checkLen("string table", len(strings)); err != nil {
		return nil, err
	}

	buf := msgp.AppendArrayHeader(nil, 2)
	buf = msgp.AppendArrayHeader(buf, uint32(len(strings)))
	for _, s := range strings {
		buf = msgp.AppendString(buf, s)
	}
	return append(buf, records...), nil
}

func appendSpanV05(buf []byte, span ddSpan, table *stringTable) ([]byte, error) {
	if err := checkLen("span meta", len(span.Meta)); err != nil {
		return nil, err
	}
	if err := checkLen("span metrics", len(span.Metrics)); err != nil {
		return nil, err
	}

	buf = msgp.AppendArrayHeader(buf, 12)
	buf = msgp.AppendUint32(buf, table.intern(span.Service))
	buf = msgp.AppendUint32(buf, table.intern(span.Name))
	buf = msgp.AppendUint32(buf, table.intern(span.Resource))
	buf = msgp.AppendUint64(buf, span.TraceID)
	buf = msgp.AppendUint64(buf, span.SpanID)
	buf = msgp.AppendUint64(buf, span.ParentID)
	buf = msgp.AppendInt64(buf, span.Start)
	buf = msgp.AppendInt64(buf, span.Duration)
	buf = msgp.AppendInt32(buf, span.Error)
	buf = msgp.AppendMapHeader(buf, uint32(len(span.Meta)))
	for _, k := range sortedKeys(span.Meta) {
		buf = msgp.AppendUint32(buf, table.intern(k))
		buf = msgp.AppendUint32(buf, table.intern(span.Meta[k]))
	}
	buf = msgp.AppendMapHeader(buf, uint32(len(span.Metrics)))
	for _, k := range sortedKeys(span.Metrics) {
		buf = msgp.AppendUint32(buf, table.intern(k))
		buf = msgp.AppendFloat64(buf, span.Metrics[k])
	}
	// an absent span type still occupies its slot, as the interned empty
	// string, keeping the record at a fixed 12 elements
	buf = msgp.AppendUint32(buf, table.intern(span.Type))

	return buf, nil
}
