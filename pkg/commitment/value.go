package commitment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is a typed sum over the JSON data model used for dynamic payload
// bags (spec §9): event payloads, artifact bodies, and policy bindings are
// all "some JSON object whose shape the core does not interpret" — Value
// lets callers build and inspect such bags without falling back to bare
// interface{} at every call site.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	arr  []Value
	obj  map[string]Value
}

func Null() Value                   { return Value{kind: KindNull} }
func NewString(s string) Value      { return Value{kind: KindString, str: s} }
func NewBool(b bool) Value          { return Value{kind: KindBool, b: b} }
func NewArray(items []Value) Value  { return Value{kind: KindArray, arr: items} }
func NewObject(m map[string]Value) Value {
	return Value{kind: KindObject, obj: m}
}

// NewNumber accepts anything json.Number can represent as text: an integer,
// a float, or a pre-formatted numeric string. It does not itself validate
// finiteness or -0 — that happens uniformly at canonicalization time.
func NewNumber(n json.Number) Value { return Value{kind: KindNumber, num: n} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) String() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) Number() (json.Number, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.num, true
}

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Array() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) Object() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// MarshalJSON renders v as plain JSON, suitable for feeding into
// MarshalCanonical or json.Marshal directly.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("commitment: unknown Value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes arbitrary JSON into a Value tree, preserving integer
// vs. floating-point number text via json.Number.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

func fromInterface(raw interface{}) Value {
	switch rv := raw.(type) {
	case nil:
		return Null()
	case bool:
		return NewBool(rv)
	case string:
		return NewString(rv)
	case json.Number:
		return NewNumber(rv)
	case []interface{}:
		items := make([]Value, len(rv))
		for i, e := range rv {
			items[i] = fromInterface(e)
		}
		return NewArray(items)
	case map[string]interface{}:
		m := make(map[string]Value, len(rv))
		for k, e := range rv {
			m[k] = fromInterface(e)
		}
		return NewObject(m)
	default:
		return Null()
	}
}
