package domain

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Identifiers is an ordered set of identifiers keyed by provider. The key
// is always taken from the identifier itself, so a provider can hold at
// most one identifier and keys cannot drift from their values.
//
// The zero value is an empty set ready to use. Mutations never write into
// the existing backing array, so copies of a set (and of a User holding
// one) evolve independently.
type Identifiers struct {
	entries []Identifier
}

// NewIdentifiers builds a set from ids. Later entries replace earlier ones
// with the same provider.
func NewIdentifiers(ids ...Identifier) Identifiers {
	var set Identifiers
	for _, id := range ids {
		set.Put(id)
	}
	return set
}

func (s Identifiers) index(provider string) int {
	return slices.IndexFunc(s.entries, func(id Identifier) bool { return id.Provider() == provider })
}

// Put inserts id, replacing any identifier with the same provider. A
// replaced provider keeps its original position.
func (s *Identifiers) Put(id Identifier) {
	next := make([]Identifier, len(s.entries), len(s.entries)+1)
	copy(next, s.entries)
	if i := s.index(id.Provider()); i >= 0 {
		next[i] = id
	} else {
		next = append(next, id)
	}
	s.entries = next
}

// Get returns the identifier for provider.
func (s Identifiers) Get(provider string) (Identifier, bool) {
	i := s.index(provider)
	if i < 0 {
		return Identifier{}, false
	}
	return s.entries[i], true
}

// Remove deletes the identifier for provider and reports whether one was
// present.
func (s *Identifiers) Remove(provider string) bool {
	i := s.index(provider)
	if i < 0 {
		return false
	}
	next := make([]Identifier, 0, len(s.entries)-1)
	next = append(next, s.entries[:i]...)
	next = append(next, s.entries[i+1:]...)
	s.entries = next
	return true
}

// Len returns the number of identifiers.
func (s Identifiers) Len() int {
	return len(s.entries)
}

// Providers returns provider keys in insertion order.
func (s Identifiers) Providers() []string {
	out := make([]string, 0, len(s.entries))
	for _, id := range s.entries {
		out = append(out, id.Provider())
	}
	return out
}

// All returns the identifiers in insertion order.
func (s Identifiers) All() []Identifier {
	return slices.Clone(s.entries)
}

// Clone returns an independent copy of the set.
func (s Identifiers) Clone() Identifiers {
	return Identifiers{entries: slices.Clone(s.entries)}
}

// MarshalJSON renders the set as an object keyed by provider.
func (s Identifiers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id.Provider())
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
