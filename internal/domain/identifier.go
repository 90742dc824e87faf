package domain

import (
	"encoding/json"
	"maps"
)

// Identifier links a user to an account at an external identity provider.
type Identifier struct {
	provider string
	id       string
	rawData  map[string]any
}

// NewIdentifier creates an Identifier. rawData is copied.
func NewIdentifier(provider, id string, rawData map[string]any) Identifier {
	return Identifier{
		provider: provider,
		id:       id,
		rawData:  maps.Clone(rawData),
	}
}

// Provider returns the provider key, e.g. "google".
func (i Identifier) Provider() string {
	return i.provider
}

// ID returns the provider-scoped account id.
func (i Identifier) ID() string {
	return i.id
}

// RawData returns a copy of the provider payload.
func (i Identifier) RawData() map[string]any {
	if i.rawData == nil {
		return map[string]any{}
	}
	return maps.Clone(i.rawData)
}

// JSONData encodes the provider payload. A payload that cannot be encoded
// yields "{}".
func (i Identifier) JSONData() string {
	if len(i.rawData) == 0 {
		return "{}"
	}
	b, err := json.Marshal(i.rawData)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Valid reports whether both provider and id are set.
func (i Identifier) Valid() bool {
	return i.provider != "" && i.id != ""
}

// String renders the identifier as provider:id.
func (i Identifier) String() string {
	return i.provider + ":" + i.id
}

type identifierJSON struct {
	Provider string          `json:"provider"`
	ID       string          `json:"id"`
	RawData  json.RawMessage `json:"raw_data"`
}

// MarshalJSON implements json.Marshaler.
func (i Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(identifierJSON{
		Provider: i.provider,
		ID:       i.id,
		RawData:  json.RawMessage(i.JSONData()),
	})
}
