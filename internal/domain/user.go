package domain

import "time"

// User is an account that may be linked to several external identifiers.
type User struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	DisplayName    *string        `json:"display_name,omitempty"`
	AdditionalData map[string]any `json:"additional_data"`
	SystemID       *string        `json:"system_id,omitempty"`
	VerifiedAt     *time.Time     `json:"verified_at,omitempty"`
	Identifiers    Identifiers    `json:"identifiers"`
}

// IsVerified reports whether the user has a verification timestamp.
func (u *User) IsVerified() bool {
	return u.VerifiedAt != nil
}

// SetAdditionalData replaces the additional data. nil becomes an empty map.
func (u *User) SetAdditionalData(data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	u.AdditionalData = data
}

// IdentifierByProvider returns the user's identifier for provider.
func (u *User) IdentifierByProvider(provider string) (Identifier, bool) {
	return u.Identifiers.Get(provider)
}

// SetIdentifiers replaces the whole identifier mapping.
func (u *User) SetIdentifiers(ids ...Identifier) {
	u.Identifiers = NewIdentifiers(ids...)
}

// AddIdentifier inserts id, replacing any identifier for the same provider.
func (u *User) AddIdentifier(id Identifier) {
	u.Identifiers.Put(id)
}

// RemoveIdentifier drops the identifier for provider.
func (u *User) RemoveIdentifier(provider string) bool {
	return u.Identifiers.Remove(provider)
}
