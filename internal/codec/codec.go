// Package codec encodes computed values for the computation cache and the
// remote job transport.
//
// Every encoded value carries an explicit variant tag. Decoding looks the tag
// up in a static registry; there is no reflection-driven type discovery, so a
// value type must be registered here before it can cross a cache or wire
// boundary.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Tag identifies an encoded value variant.
type Tag string

// Registered variant tags.
const (
	TagDouble  Tag = "double"
	TagLong    Tag = "long"
	TagString  Tag = "string"
	TagBool    Tag = "bool"
	TagDecimal Tag = "decimal"
	TagVector  Tag = "vector"
	TagLabels  Tag = "labels"
)

var (
	// ErrUnknownTag is returned when decoding a tag missing from the registry.
	ErrUnknownTag = errors.New("unknown value tag")

	// ErrUnsupportedValue is returned when encoding a Go type without a tag.
	ErrUnsupportedValue = errors.New("unsupported value type")
)

// DecodeFunc decodes the payload of one tagged variant.
type DecodeFunc func(raw json.RawMessage) (any, error)

var decoders = map[Tag]DecodeFunc{
	TagDouble:  decodeAs[float64],
	TagLong:    decodeAs[int64],
	TagString:  decodeAs[string],
	TagBool:    decodeAs[bool],
	TagDecimal: decodeDecimal,
	TagVector:  decodeAs[[]float64],
	TagLabels:  decodeAs[map[string]float64],
}

type envelope struct {
	Tag   Tag             `json:"t"`
	Value json.RawMessage `json:"v"`
}

// Tags returns the registered tags in sorted order.
func Tags() []Tag {
	out := make([]Tag, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TagOf returns the tag used to encode v.
func TagOf(v any) (Tag, error) {
	switch v.(type) {
	case float64, float32:
		return TagDouble, nil
	case int, int32, int64:
		return TagLong, nil
	case string:
		return TagString, nil
	case bool:
		return TagBool, nil
	case decimal.Decimal:
		return TagDecimal, nil
	case []float64:
		return TagVector, nil
	case map[string]float64:
		return TagLabels, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Encode serializes v with its variant tag. The length of the result is the
// value's size estimate for statistics.
func Encode(v any) ([]byte, error) {
	tag, err := TagOf(v)
	if err != nil {
		return nil, err
	}

	var payload any = v
	switch x := v.(type) {
	case float32:
		payload = float64(x)
	case int:
		payload = int64(x)
	case int32:
		payload = int64(x)
	case decimal.Decimal:
		payload = x.String()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", tag, err)
	}
	data, err := json.Marshal(envelope{Tag: tag, Value: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", tag, err)
	}
	return data, nil
}

// Decode parses data produced by Encode. Integers decode as int64 and
// floating point values as float64.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	dec, ok := decoders[env.Tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.Tag)
	}
	v, err := dec(env.Value)
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", env.Tag, err)
	}
	return v, nil
}

// Size returns the encoded size of v.
func Size(v any) (int, error) {
	data, err := Encode(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeDecimal(raw json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return decimal.NewFromString(s)
}
