// Package canonical produces deterministic, content-addressed hashes of
// structured payloads. Two payloads that differ only in mapping key order or
// insertion order hash identically; any field-value change produces a
// different digest. The canonical form is versioned implicitly by this
// package: compact JSON, keys sorted lexicographically at every depth, array
// order preserved, explicit nulls kept, no HTML escaping. The digest is
// Keccak-256 over the UTF-8 bytes of that form, so any party (including the
// on-chain verifier's off-chain counterparts) can recompute it.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Marshal serializes v into its canonical byte form. The value is first
// normalized through JSON semantics (structs become objects per their json
// tags), then re-emitted with sorted keys and no insignificant whitespace.
func Marshal(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash computes the 32-byte Keccak-256 digest of the canonical form of v.
// Pure function: no I/O, no clock, no randomness.
func Hash(v any) (common.Hash, error) {
	data, err := Marshal(v)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}

// normalize round-trips v through JSON so that arbitrary Go values collapse
// into the small set of types writeValue understands: nil, bool, json.Number,
// string, []any and map[string]any. UseNumber preserves the source's numeric
// text, so integers beyond float64 precision survive untouched.
func normalize(v any) (any, error) {
	var enc bytes.Buffer
	encoder := json.NewEncoder(&enc)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: encode payload: %w", err)
	}

	decoder := json.NewDecoder(&enc)
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: normalize payload: %w", err)
	}
	return out, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return writeString(buf, val)
	case []any:
		// Array order is semantically significant and preserved as-is.
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := maps.Keys(val)
		slices.Sort(keys)

		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, val[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
	return nil
}

// writeString emits a JSON string without HTML escaping, matching the byte
// output of encoders in other ecosystems so hashes stay reproducible.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	encoder := json.NewEncoder(&tmp)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("canonical: encode string: %w", err)
	}
	// Encoder appends a trailing newline.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
