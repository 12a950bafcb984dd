package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMapping
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMapping:
		return "mapping"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a node of the settings tree: String | Number | Bool | Mapping,
// plus List and Null so arbitrary documents survive a load/save cycle.
// The zero Value is Null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    map[string]Value
	list []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int returns a numeric value from an integer.
func Int(i int) Value { return Value{kind: KindNumber, num: float64(i)} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Mapping returns a mapping value. The map is used as-is, not copied.
func Mapping(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMapping, m: m}
}

// EmptyMapping returns a new, empty mapping value.
func EmptyMapping() Value { return Mapping(nil) }

// List returns a list value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsMapping reports whether v is a mapping.
func (v Value) IsMapping() bool { return v.kind == KindMapping }

// AsString returns the string and true if v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number and true if v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsInt returns the number truncated to int and true if v is a number.
func (v Value) AsInt() (int, bool) { return int(v.num), v.kind == KindNumber }

// AsBool returns the boolean and true if v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns a copy of the list items and true if v is a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	for i, item := range v.list {
		out[i] = item.Clone()
	}
	return out, true
}

// Keys returns the sorted keys of a mapping, or nil for any other kind.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the direct child of a mapping.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	child, ok := v.m[name]
	return child, ok
}

// Len returns the number of entries of a mapping or list.
func (v Value) Len() int {
	switch v.kind {
	case KindMapping:
		return len(v.m)
	case KindList:
		return len(v.list)
	default:
		return 0
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindMapping:
		m := make(map[string]Value, len(v.m))
		for k, child := range v.m {
			m[k] = child.Clone()
		}
		return Value{kind: KindMapping, m: m}
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	default:
		return v
	}
}

// Equal reports whether v and o are deeply equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMapping:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, child := range v.m {
			other, ok := o.m[k]
			if !ok || !child.Equal(other) {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders scalars plainly and containers as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		data, err := json.Marshal(v.ToAny())
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(data)
	}
}

// ToAny converts v into plain Go values (map[string]any, []any, string,
// float64 or int64, bool, nil) suitable for any encoder. Integral numbers
// become int64 so they encode without a fractional part.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1<<53 {
			return int64(v.num)
		}
		return v.num
	case KindBool:
		return v.b
	case KindMapping:
		m := make(map[string]any, len(v.m))
		for k, child := range v.m {
			m[k] = child.ToAny()
		}
		return m
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.ToAny()
		}
		return items
	default:
		return nil
	}
}

// FromAny converts decoded JSON, YAML or TOML data into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case time.Time:
		return String(t.Format(time.RFC3339Nano)), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, child := range t {
			cv, err := FromAny(child)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = cv
		}
		return Mapping(m), nil
	case map[any]any:
		// YAML sometimes produces map[any]any instead of map[string]any
		m := make(map[string]Value, len(t))
		for k, child := range t {
			key := fmt.Sprint(k)
			cv, err := FromAny(child)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", key, err)
			}
			m[key] = cv
		}
		return Mapping(m), nil
	case []any:
		items := make([]Value, len(t))
		for i, child := range t {
			cv, err := FromAny(child)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = cv
		}
		return List(items...), nil
	case map[string]Value:
		return Mapping(t).Clone(), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue interprets s as a JSON literal (number, bool, null, object,
// array or quoted string) and falls back to a plain string otherwise.
// Used for values typed on the command line.
func ParseValue(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return String(s)
	}
	var v Value
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return String(s)
}

// Entry is one leaf of a flattened tree.
type Entry struct {
	Key   string
	Value Value
}

// Flatten lists the leaves of a mapping as dotted keys in sorted order.
// Empty mappings are reported as leaves so they stay visible.
func Flatten(v Value) []Entry {
	var out []Entry
	flatten("", v, &out)
	return out
}

func flatten(prefix string, v Value, out *[]Entry) {
	if v.kind != KindMapping || (len(v.m) == 0 && prefix != "") {
		if prefix != "" {
			*out = append(*out, Entry{Key: prefix, Value: v})
		}
		return
	}
	for _, k := range v.Keys() {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flatten(key, v.m[k], out)
	}
}
