package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
	// KindTime represents a timestamp value.
	KindTime
)

// Value is a small typed scalar used for metadata documents and filters.
//
// The representation is designed to make filtering fast and predictable:
// no reflection and no fmt-based stringification. Timestamps are stored as
// Unix nanoseconds in I64.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind    `json:"k"`
	I64  int64   `json:"i,omitempty"`
	F64  float64 `json:"f,omitempty"`
	S    string  `json:"s,omitempty"`
	B    bool    `json:"b,omitempty"`
}

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Time returns a timestamp Value with nanosecond precision.
func Time(v time.Time) Value { return Value{Kind: KindTime, I64: v.UnixNano()} }

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.S, true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsTime returns the timestamp value if Kind is KindTime.
func (v Value) AsTime() (time.Time, bool) {
	if v.Kind != KindTime {
		return time.Time{}, false
	}
	return time.Unix(0, v.I64), true
}

// Key returns a stable string representation for use in inverted-index maps.
// It must remain stable across versions for persisted metadata usage.
func (v Value) Key() string {
	switch v.Kind {
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.S
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	case KindTime:
		return "t:" + strconv.FormatInt(v.I64, 10)
	default:
		return "invalid"
	}
}

// GoString formats the value for CLI/debug output.
func (v Value) GoString() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.S
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindTime:
		return time.Unix(0, v.I64).UTC().Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// Metadata is a typed metadata document: attribute name to scalar value.
// It is opaque to the index structures and used only for filter predicates.
type Metadata map[string]Value

// Clone creates a copy of the metadata document.
//
// This is the safe default to prevent external mutation after Add().
// Returns nil for nil or empty input to avoid allocation, which is common.
func (m Metadata) Clone() Metadata {
	if len(m) == 0 {
		return nil
	}
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// MarshalJSON implements json.Marshaler with deterministic field tags.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type alias map[string]Value
	return json.Marshal(alias(m))
}

// FromAny converts a loosely typed map (e.g. decoded JSON) into Metadata.
// Unsupported value types are rejected.
func FromAny(in map[string]any) (Metadata, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(Metadata, len(in))
	for k, raw := range in {
		switch v := raw.(type) {
		case string:
			out[k] = String(v)
		case bool:
			out[k] = Bool(v)
		case int:
			out[k] = Int(int64(v))
		case int64:
			out[k] = Int(v)
		case float64:
			out[k] = Float(v)
		case time.Time:
			out[k] = Time(v)
		case Value:
			out[k] = v
		default:
			return nil, fmt.Errorf("metadata: unsupported value type %T for key %q", raw, k)
		}
	}
	return out, nil
}
