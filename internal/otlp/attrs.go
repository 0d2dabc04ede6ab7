package otlp

import (
	"fmt"
	"slices"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: stringValue(value)}
}

// tagAttrs converts tags to attributes sorted by key.
func tagAttrs(tags map[string]string) []*commonpb.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, stringAttr(k, tags[k]))
	}
	return out
}

func dataAttrs(data map[string]any) []*commonpb.KeyValue {
	if len(data) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(data))
	for _, k := range sortedKeys(data) {
		out = append(out, &commonpb.KeyValue{Key: k, Value: anyValue(data[k])})
	}
	return out
}

// anyValue maps a JSON-like Go value onto an OTLP AnyValue. Unknown types
// are rendered with fmt.
func anyValue(v any) *commonpb.AnyValue {
	switch t := v.(type) {
	case nil:
		return &commonpb.AnyValue{}
	case string:
		return stringValue(t)
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: t}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(t)}}
	case int32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(t)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: t}}
	case float32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: float64(t)}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: t}}
	case []byte:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: t}}
	case map[string]any:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{
			KvlistValue: &commonpb.KeyValueList{Values: dataAttrs(t)},
		}}
	case map[string]string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{
			KvlistValue: &commonpb.KeyValueList{Values: tagAttrs(t)},
		}}
	case []any:
		values := make([]*commonpb.AnyValue, 0, len(t))
		for _, item := range t {
			values = append(values, anyValue(item))
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
			ArrayValue: &commonpb.ArrayValue{Values: values},
		}}
	case []string:
		values := make([]*commonpb.AnyValue, 0, len(t))
		for _, item := range t {
			values = append(values, stringValue(item))
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
			ArrayValue: &commonpb.ArrayValue{Values: values},
		}}
	case fmt.Stringer:
		return stringValue(t.String())
	}
	return stringValue(fmt.Sprint(v))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
