package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValueKind identifies the concrete variant held by a Value.
type ValueKind int

// Value variants.
const (
	ValueNull ValueKind = iota
	ValueString
	ValueInt
	ValueFloat
	ValueBool
	ValueList
	ValueMap
)

// Value is one JSON-shaped pipeline configuration value: string, int, float,
// bool, null, list, or map. The concrete variant survives store and export
// round-trips; integers never degrade to floats.
type Value struct {
	kind ValueKind
	str  string
	num  int64
	flt  float64
	b    bool
	list []Value
	m    map[string]Value
}

// NullValue returns the null variant.
func NullValue() Value { return Value{kind: ValueNull} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: ValueString, str: s} }

// IntValue wraps an integer.
func IntValue(n int64) Value { return Value{kind: ValueInt, num: n} }

// FloatValue wraps a float.
func FloatValue(f float64) Value { return Value{kind: ValueFloat, flt: f} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }

// ListValue wraps a list of values.
func ListValue(items ...Value) Value { return Value{kind: ValueList, list: items} }

// MapValue wraps a nested map.
func MapValue(m map[string]Value) Value { return Value{kind: ValueMap, m: m} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == ValueNull }

// AsString returns the string payload when the value is a string.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == ValueString
}

// AsBool returns the bool payload when the value is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == ValueBool
}

// AsInt returns an integer payload. Floats with an integral value convert.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case ValueInt:
		return v.num, true
	case ValueFloat:
		n := int64(v.flt)
		if float64(n) == v.flt {
			return n, true
		}
	}
	return 0, false
}

// AsFloat returns a numeric payload widened to float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case ValueInt:
		return float64(v.num), true
	case ValueFloat:
		return v.flt, true
	}
	return 0, false
}

// AsList returns the list payload when the value is a list.
func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == ValueList
}

// AsMap returns the map payload when the value is a map.
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == ValueMap
}

// Equal reports deep equality of two values, including variant tags: the
// integer 2 and the float 2.0 are not equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNull:
		return true
	case ValueString:
		return v.str == o.str
	case ValueInt:
		return v.num == o.num
	case ValueFloat:
		return v.flt == o.flt
	case ValueBool:
		return v.b == o.b
	case ValueList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case ValueMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, vv := range v.m {
			ov, ok := o.m[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case ValueList:
		items := make([]Value, len(v.list))
		for i := range v.list {
			items[i] = v.list[i].Clone()
		}
		return Value{kind: ValueList, list: items}
	case ValueMap:
		m := make(map[string]Value, len(v.m))
		for k, vv := range v.m {
			m[k] = vv.Clone()
		}
		return Value{kind: ValueMap, m: m}
	default:
		return v
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueString:
		return json.Marshal(v.str)
	case ValueInt:
		return json.Marshal(v.num)
	case ValueFloat:
		return json.Marshal(v.flt)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case ValueMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers decode through
// json.Number so the int/float distinction is kept.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func valueFromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := t.Int64(); err == nil {
				return IntValue(n), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", s, err)
		}
		return FloatValue(f), nil
	case []any:
		items := make([]Value, len(t))
		for i := range t {
			item, err := valueFromAny(t[i])
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Value{kind: ValueList, list: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, entry := range t {
			item, err := valueFromAny(entry)
			if err != nil {
				return Value{}, err
			}
			m[k] = item
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// PipelineConfig is the opaque job configuration handed to the runner.
// Keys recognized by the argv mapping drive pipeline flags; unknown keys
// ride along untouched through store and export.
type PipelineConfig map[string]Value

// GetString returns the string value under key.
func (c PipelineConfig) GetString(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetBool returns the bool value under key.
func (c PipelineConfig) GetBool(key string) (bool, bool) {
	v, ok := c[key]
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// GetInt returns the integer value under key.
func (c PipelineConfig) GetInt(key string) (int64, bool) {
	v, ok := c[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// Keys returns the config keys in sorted order.
func (c PipelineConfig) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy. A nil config stays nil.
func (c PipelineConfig) Clone() PipelineConfig {
	if c == nil {
		return nil
	}
	out := make(PipelineConfig, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports deep equality of two configs.
func (c PipelineConfig) Equal(o PipelineConfig) bool {
	if len(c) != len(o) {
		return false
	}
	for k, v := range c {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
