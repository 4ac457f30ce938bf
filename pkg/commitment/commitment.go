// Copyright 2025 Certen Protocol
//
// Canonical Commitment Package - RFC8785-style deterministic JSON
// Single source of truth for content addressing across the engine: every
// event payload, artifact body, and policy binding is hashed through this
// package so two implementations of the same document always agree.

package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"unicode/utf16"
)

// ErrLoneSurrogate is returned when a string contains an unpaired UTF-16
// surrogate code point. Per spec, exact key ordering for such strings is not
// exercised and must not be guessed — such input is rejected outright.
var ErrLoneSurrogate = errors.New("commitment: string contains unpaired UTF-16 surrogate")

// ErrNonFiniteNumber is returned for NaN, +/-Inf, or -0 numeric values.
var ErrNonFiniteNumber = errors.New("commitment: number must be finite and not negative zero")

// ErrNonStringKey is returned when a map has a key that isn't a string once
// decoded (cannot occur via encoding/json, but guards programmatic callers
// that hand us a pre-built map[interface{}]interface{}).
var ErrNonStringKey = errors.New("commitment: object keys must be strings")

// ErrNotPlainObject is returned when a value to canonicalize carries a
// non-Object.prototype-style shape (only plain maps/slices/scalars allowed).
var ErrNotPlainObject = errors.New("commitment: only plain maps, slices and scalars may be canonicalized")

// surrogateEscape matches a \uXXXX escape sequence inside a raw JSON string
// literal, used to pre-scan for lone surrogates before the stdlib decoder
// silently replaces them with U+FFFD.
var surrogateEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// Canonicalize takes arbitrary JSON bytes and returns the canonical encoding:
// object keys sorted by UTF-16 code unit, arrays left in order, numbers
// re-emitted without superfluous formatting, strings JSON-escaped. Returns
// ErrLoneSurrogate if any string literal contains an unpaired surrogate.
func Canonicalize(raw []byte) ([]byte, error) {
	if err := rejectLoneSurrogates(raw); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("commitment: decode: %w", err)
	}
	// Reject trailing garbage after the first JSON value.
	if dec.More() {
		return nil, fmt.Errorf("commitment: trailing data after JSON value")
	}

	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf, err = appendCanonical(buf, norm)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// CanonicalizeJSON is retained for callers that only know the teacher-era
// name; it is identical to Canonicalize.
func CanonicalizeJSON(raw []byte) ([]byte, error) { return Canonicalize(raw) }

// MarshalCanonical JSON-marshals v with encoding/json and then canonicalizes
// the result. v must not contain NaN/+-Inf (json.Marshal already rejects
// those) nor -0 (rejected here).
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("commitment: marshal: %w", err)
	}
	return Canonicalize(raw)
}

// CanonicalizeJSONFromMap canonicalizes a map[string]interface{} directly.
func CanonicalizeJSONFromMap(m map[string]interface{}) ([]byte, error) {
	return MarshalCanonical(m)
}

// HashConcat returns the SHA-256 digest of the concatenation of parts.
func HashConcat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HashHex returns the hex-encoded SHA-256 digest of the concatenation of parts.
func HashHex(parts ...[]byte) string {
	return hex.EncodeToString(HashConcat(parts...))
}

// HashBytes returns the hex-encoded SHA-256 digest of data, unprefixed.
// (Teacher's variant prefixed with "0x"; the engine's hash fields are bare
// hex per spec §3, so the prefix is dropped here.)
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Hex is an alias for HashBytes kept for readability at call sites.
func SHA256Hex(data []byte) string { return HashBytes(data) }

// HashCanonical canonicalizes v and returns its SHA-256 hex digest — this is
// sha256Hex(canonical(v)) from spec §4.1.
func HashCanonical(v interface{}) (string, error) {
	canon, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func rejectLoneSurrogates(raw []byte) error {
	matches := surrogateEscape.FindAllSubmatchIndex(raw, -1)
	consumed := make(map[int]bool, len(matches))
	for _, m := range matches {
		start := m[0]
		if consumed[start] {
			continue
		}
		codeStr := string(raw[m[2]:m[3]])
		code, err := strconv.ParseUint(codeStr, 16, 32)
		if err != nil {
			continue
		}
		r := rune(code)
		if !utf16.IsSurrogate(r) {
			continue
		}
		// High surrogate must be immediately followed by a matching \u escape
		// that decodes to a low surrogate.
		if r >= 0xD800 && r <= 0xDBFF {
			nextStart := m[1]
			var paired bool
			for _, n := range matches {
				if n[0] == nextStart {
					nc, err := strconv.ParseUint(string(raw[n[2]:n[3]]), 16, 32)
					if err == nil {
						nr := rune(nc)
						if nr >= 0xDC00 && nr <= 0xDFFF {
							paired = true
							consumed[n[0]] = true
						}
					}
					break
				}
			}
			if !paired {
				return ErrLoneSurrogate
			}
			continue
		}
		// A low surrogate encountered without having been consumed as the
		// second half of a pair is lone.
		return ErrLoneSurrogate
	}
	return nil
}

// normalize walks a decoded interface{} tree (maps are map[string]interface{},
// numbers are json.Number) and validates it against the canonicalization
// rules, rejecting non-finite numbers, -0, and non-plain shapes.
func normalize(v interface{}) (interface{}, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return vv, nil
	case string:
		return vv, nil
	case json.Number:
		return validateNumber(vv)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			nv, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotPlainObject, v)
	}
}

func validateNumber(n json.Number) (json.Number, error) {
	s := n.String()
	if s == "-0" || s == "-0.0" {
		return "", ErrNonFiniteNumber
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("commitment: invalid number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFiniteNumber
	}
	if f == 0 && len(s) > 0 && s[0] == '-' {
		return "", ErrNonFiniteNumber
	}
	return n, nil
}

// appendCanonical serializes a normalized value, sorting object keys by
// UTF-16 code unit and recursing into arrays in original order.
func appendCanonical(buf []byte, v interface{}) ([]byte, error) {
	switch vv := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if vv {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case json.Number:
		return append(buf, vv.String()...), nil
	case string:
		return appendCanonicalString(buf, vv), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sortByUTF16(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonicalString(buf, k)
			buf = append(buf, ':')
			var err error
			buf, err = appendCanonical(buf, vv[k])
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf = append(buf, '[')
		for i, e := range vv {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendCanonical(buf, e)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotPlainObject, v)
	}
}

// sortByUTF16 sorts strings by their UTF-16 code unit sequence, matching
// JavaScript's default string comparison (which JSON.stringify's key
// ordering in engines that preserve insertion order for non-canonical
// objects does not use, but RFC 8785 mandates for canonicalization).
func sortByUTF16(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a := utf16.Encode([]rune(keys[i]))
		b := utf16.Encode([]rune(keys[j]))
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

// appendCanonicalString JSON-escapes s the way encoding/json does, which is
// sufficient for the non-surrogate strings that reach this point (lone
// surrogates were already rejected in Canonicalize).
func appendCanonicalString(buf []byte, s string) []byte {
	b, _ := json.Marshal(s)
	return append(buf, b...)
}
