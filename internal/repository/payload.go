package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is the value of a JSON document column. It is either a decoded
// structure or the encoded text read from storage; the choice is resolved
// only when the value crosses the driver boundary.
type Payload struct {
	structured map[string]any
	encoded    string
	isEncoded  bool
}

// StructuredPayload wraps a decoded document.
func StructuredPayload(m map[string]any) Payload {
	return Payload{structured: m}
}

// EncodedPayload wraps JSON text.
func EncodedPayload(s string) Payload {
	return Payload{encoded: s, isEncoded: true}
}

// IsEncoded reports whether p holds JSON text.
func (p Payload) IsEncoded() bool {
	return p.isEncoded
}

// Map returns the decoded document. Empty text decodes to an empty map.
func (p Payload) Map() (map[string]any, error) {
	if !p.isEncoded {
		if p.structured == nil {
			return map[string]any{}, nil
		}
		return p.structured, nil
	}
	if p.encoded == "" || p.encoded == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(p.encoded), &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Text returns the JSON text. A structure that cannot be encoded yields "{}".
func (p Payload) Text() string {
	if p.isEncoded {
		if p.encoded == "" {
			return "{}"
		}
		return p.encoded
	}
	if len(p.structured) == 0 {
		return "{}"
	}
	b, err := json.Marshal(p.structured)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Value implements driver.Valuer; storage always receives JSON text.
func (p Payload) Value() (driver.Value, error) {
	return p.Text(), nil
}
