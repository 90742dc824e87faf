package domain

// Registration payload keys.
const (
	RegistrationEmail          = "email"
	RegistrationAdditionalData = "additionalData"
)

// RegistrationContext carries the raw payload of one registration attempt.
// Any key may be stored; only email and additionalData are persisted.
type RegistrationContext struct {
	data map[string]any
}

// NewRegistrationContext wraps data. The map is owned by the context.
func NewRegistrationContext(data map[string]any) *RegistrationContext {
	if data == nil {
		data = map[string]any{}
	}
	return &RegistrationContext{data: data}
}

// Get returns the value stored under key, or nil.
func (c *RegistrationContext) Get(key string) any {
	return c.data[key]
}

// Set stores value under key.
func (c *RegistrationContext) Set(key string, value any) *RegistrationContext {
	c.data[key] = value
	return c
}

// ExtractAndRemove returns the value under key and deletes it.
func (c *RegistrationContext) ExtractAndRemove(key string) any {
	v := c.data[key]
	delete(c.data, key)
	return v
}

// Email returns the email entry if it is a string.
func (c *RegistrationContext) Email() string {
	email, _ := c.data[RegistrationEmail].(string)
	return email
}

// ToMap returns the persisted projection: email and additionalData.
// additionalData is an empty map when missing or not a map.
func (c *RegistrationContext) ToMap() map[string]any {
	additional, ok := c.data[RegistrationAdditionalData].(map[string]any)
	if !ok || additional == nil {
		additional = map[string]any{}
	}
	return map[string]any{
		RegistrationEmail:          c.data[RegistrationEmail],
		RegistrationAdditionalData: additional,
	}
}
