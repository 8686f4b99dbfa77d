package record

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tritonstream/triton/triton/tritonerr"
	"github.com/vmihailenco/msgpack/v5"
)

// dateTimeLayout is the ISO-8601-with-a-space-separator layout the
// enhanced coercion pass uses for absolute date-times.
const dateTimeLayout = "2006-01-02 15:04:05"

// dateLayout is the calendar-date layout used for values implementing
// Dateable.
const dateLayout = "2006-01-02"

// Codec encodes and decodes Record.Data values to/from the wire.
//
// The primary encoding is MessagePack: a self-describing tag+length+
// payload binary format. Types MessagePack cannot natively express in a
// way that preserves the source semantics (arbitrary-precision
// decimals, absolute date-times, calendar dates, coordinate pairs) are
// coerced to their canonical textual form before marshaling.
type Codec struct{}

// NewCodec returns the default Codec. It has no state; zero value works.
func NewCodec() *Codec { return &Codec{} }

// Encode serializes a structured value (typically a map[string]interface{}
// decoded from a Record) to its binary wire form.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	normalized, err := c.normalize(v)
	if err != nil {
		return nil, err
	}
	out, err := msgpack.Marshal(normalized)
	if err != nil {
		return nil, &tritonerr.UnknownTypeError{Value: v}
	}
	return out, nil
}

// Decode reverses Encode. Decoded strings are Go strings, which are
// already UTF-8 / Unicode code-point sequences, satisfying the codec's
// round-trip obligation for multi-byte text.
func (c *Codec) Decode(data []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding record body: %w", err)
	}
	return normalizeDecoded(out), nil
}

// normalize walks v, replacing values MessagePack cannot round-trip
// faithfully with their documented coercion. Primitives, maps, and
// slices recurse; any other value is rendered through its String
// method if it implements fmt.Stringer, or fmt.Sprintf("%v", ...)
// otherwise, so msgpack's reflection-based fallback never serializes
// struct fields we don't want exposed on the wire.
func (c *Codec) normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil, bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t, nil
	case decimal.Decimal:
		return t.String(), nil
	case *decimal.Decimal:
		return t.String(), nil
	case time.Time:
		return t.UTC().Format(dateTimeLayout), nil
	case Dateable:
		y, m, d := t.Date()
		return fmt.Sprintf("%04d-%02d-%02d", y, m, d), nil
	case Coordinater:
		lat, lon := t.Coordinates()
		return fmt.Sprintf("(%v, %v)", lat, lon), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, elem := range t {
			normalized, err := c.normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			normalized, err := c.normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String(), nil
		}
		return fmt.Sprintf("%v", v), nil
	}
}

// normalizeDecoded walks a freshly decoded map and converts nested
// map[interface{}]interface{} shapes msgpack sometimes produces into
// map[string]interface{}, so callers always see the same Data shape
// regardless of how a nested document was originally encoded.
func normalizeDecoded(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	for k, elem := range m {
		m[k] = normalizeDecodedValue(elem)
	}
	return m
}

func normalizeDecodedValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, elem := range t {
			t[k] = normalizeDecodedValue(elem)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, elem := range t {
			out[fmt.Sprint(k)] = normalizeDecodedValue(elem)
		}
		return out
	case []interface{}:
		for i, elem := range t {
			t[i] = normalizeDecodedValue(elem)
		}
		return t
	default:
		return t
	}
}
