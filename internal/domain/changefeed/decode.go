package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"unitcast/internal/core/entity"
)

// Type tags carried by TypedValue envelopes.
const (
	TagString = "string"
	TagNumber = "number"
	TagBool   = "bool"
	TagNull   = "null"
)

// DecodeImage unwraps a typed-value image into flat attributes. Numbers
// decode to decimal.Decimal with full precision. An unknown type tag is
// unwrapped as-is; a malformed envelope (no tag, or several) is an error.
func DecodeImage(img Image) (entity.Attributes, error) {
	attrs := make(entity.Attributes, len(img))
	for name, tv := range img {
		value, err := tv.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = value
	}
	return attrs, nil
}

// Unwrap extracts the scalar behind the envelope's single type tag.
func (tv TypedValue) Unwrap() (any, error) {
	if len(tv) != 1 {
		return nil, fmt.Errorf("typed value must carry exactly one type tag, got %d", len(tv))
	}

	for tag, raw := range tv {
		switch tag {
		case TagString:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("string value: %w", err)
			}
			return s, nil

		case TagNumber:
			return unwrapNumber(raw)

		case TagBool:
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("bool value: %w", err)
			}
			return b, nil

		case TagNull:
			return nil, nil

		default:
			// Unknown tag: pass the payload through untyped.
			return unwrapAny(raw)
		}
	}
	return nil, nil // unreachable
}

// unwrapNumber accepts both encodings the log emits: a quoted decimal string
// and a bare JSON number.
func unwrapNumber(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return decimal.Decimal{}, fmt.Errorf("number value: %w", err)
		}
		s = n.String()
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("number value %q: %w", s, err)
	}
	return d, nil
}

func unwrapAny(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("untyped value: %w", err)
	}
	return v, nil
}
