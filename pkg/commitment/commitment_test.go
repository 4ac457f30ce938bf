// Copyright 2025 Certen Protocol
//
// Canonical Commitment Tests

package commitment

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanonicalize_KeyOrdering(t *testing.T) {
	raw := []byte(`{"b":1,"a":[null,2]}`)
	got, err := Canonicalize(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":[null,2],"b":1}`
	if string(got) != want {
		t.Errorf("canonical mismatch: got %s, want %s", got, want)
	}
}

func TestCanonicalize_KnownHash(t *testing.T) {
	raw := []byte(`{"b":1,"a":[null,2]}`)
	hash, err := HashCanonical(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("hash canonical: %v", err)
	}
	// sha256("{\"a\":[null,2],\"b\":1}")
	want := "0c71084289d2b3b27a3bd78dac87e7063c7f679781ac096b1b05afc4dce743fa"
	if hash != want {
		t.Errorf("hash mismatch: got %s, want %s", hash, want)
	}
}

func TestCanonicalize_UTF16CodeUnitOrder(t *testing.T) {
	// Ordering by rune value would put "￿" (U+FFFF) before "😀" (U+1F600,
	// a surrogate pair). Ordering by UTF-16 code unit puts "😀" first,
	// because its leading surrogate (0xD83D) is less than 0xFFFF — this
	// exercises sorting by code-unit sequence, not rune value.
	raw := []byte(`{"￿":1,"z":2,"😀":3}`)
	got, err := Canonicalize(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"z":2,"😀":3,"￿":1}`
	if string(got) != want {
		t.Errorf("key order mismatch: got %s, want %s", got, want)
	}
}

func TestCanonicalize_RejectsNegativeZero(t *testing.T) {
	_, err := Canonicalize([]byte(`{"x":-0}`))
	if !errors.Is(err, ErrNonFiniteNumber) {
		t.Fatalf("expected ErrNonFiniteNumber, got %v", err)
	}
}

func TestCanonicalize_RejectsLoneHighSurrogate(t *testing.T) {
	_, err := Canonicalize([]byte(`{"x":"\ud800"}`))
	if !errors.Is(err, ErrLoneSurrogate) {
		t.Fatalf("expected ErrLoneSurrogate, got %v", err)
	}
}

func TestCanonicalize_RejectsLoneLowSurrogate(t *testing.T) {
	_, err := Canonicalize([]byte(`{"x":"\udc00"}`))
	if !errors.Is(err, ErrLoneSurrogate) {
		t.Fatalf("expected ErrLoneSurrogate, got %v", err)
	}
}

func TestCanonicalize_AllowsValidSurrogatePair(t *testing.T) {
	// U+1F600 GRINNING FACE, encoded as a surrogate pair.
	_, err := Canonicalize([]byte(`{"x":"😀"}`))
	if err != nil {
		t.Fatalf("valid surrogate pair rejected: %v", err)
	}
}

func TestCanonicalize_PreservesIntegerFormatting(t *testing.T) {
	got, err := Canonicalize([]byte(`{"n":9007199254740993}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"n":9007199254740993}`
	if string(got) != want {
		t.Errorf("integer formatting mismatch: got %s, want %s", got, want)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	a := map[string]interface{}{"z": 1, "a": 2, "m": []interface{}{3, 2, 1}}
	b := map[string]interface{}{"a": 2, "m": []interface{}{3, 2, 1}, "z": 1}

	canonA, err := MarshalCanonical(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	canonB, err := MarshalCanonical(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(canonA) != string(canonB) {
		t.Errorf("expected identical canonical forms regardless of map insertion order: %s vs %s", canonA, canonB)
	}
}

func TestCanonicalize_RejectsTrailingData(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1} {"b":2}`))
	if err == nil {
		t.Error("expected error for trailing JSON data")
	}
}

func TestValue_RoundTrip(t *testing.T) {
	raw := []byte(`{"name":"agent-1","balance":1250,"active":true,"tags":["x","y"],"meta":null}`)
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	obj, ok := v.Object()
	if !ok {
		t.Fatalf("expected object value")
	}
	name, ok := obj["name"].String()
	if !ok || name != "agent-1" {
		t.Errorf("name mismatch: got %q ok=%v", name, ok)
	}
	bal, ok := obj["balance"].Number()
	if !ok || bal.String() != "1250" {
		t.Errorf("balance mismatch: got %q ok=%v", bal, ok)
	}
	active, ok := obj["active"].Bool()
	if !ok || !active {
		t.Errorf("active mismatch: got %v ok=%v", active, ok)
	}
	tags, ok := obj["tags"].Array()
	if !ok || len(tags) != 2 {
		t.Fatalf("tags mismatch: got %v ok=%v", tags, ok)
	}
	if obj["meta"].Kind() != KindNull {
		t.Errorf("expected meta to be null, got kind %d", obj["meta"].Kind())
	}

	remarshaled, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	canon1, err := Canonicalize(raw)
	if err != nil {
		t.Fatalf("canonicalize raw: %v", err)
	}
	canon2, err := Canonicalize(remarshaled)
	if err != nil {
		t.Fatalf("canonicalize remarshaled: %v", err)
	}
	if string(canon1) != string(canon2) {
		t.Errorf("round trip changed canonical form: %s vs %s", canon1, canon2)
	}
}
