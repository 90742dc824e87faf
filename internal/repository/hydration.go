package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sumire/userlink/internal/domain"
)

// Column names shared by the users and user_identifiers tables.
const (
	ColumnID             = "id"
	ColumnEmail          = "email"
	ColumnDisplayName    = "display_name"
	ColumnAdditionalData = "additional_data"
	ColumnSystemID       = "system_id"
	ColumnVerifiedAt     = "verified_at"
	ColumnIdentifiers    = "identifiers"

	ColumnUserID       = "user_id"
	ColumnProvider     = "provider"
	ColumnIdentifierID = "identifier_id"
	ColumnRawData      = "raw_data"
	ColumnDeletedAt    = "deleted_at"
)

// TimestampLayout is the text form of verified_at in dehydrated rows.
const TimestampLayout = "2006-01-02 15:04:05Z07:00"

var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02",
}

// Row is a storage row keyed by column name. Presence of a key is
// significant: hydration only touches fields whose key exists.
type Row map[string]any

// UserHydration maps between storage rows and domain users.
type UserHydration struct{}

// NewUserHydration creates a UserHydration.
func NewUserHydration() *UserHydration {
	return &UserHydration{}
}

// Dehydrate converts user into a users row. Identifiers are not included;
// see DehydrateIdentifier.
func (h *UserHydration) Dehydrate(user *domain.User) Row {
	row := Row{
		ColumnID:             user.ID,
		ColumnEmail:          user.Email,
		ColumnDisplayName:    nil,
		ColumnAdditionalData: StructuredPayload(user.AdditionalData),
		ColumnSystemID:       nil,
		ColumnVerifiedAt:     nil,
	}
	if user.DisplayName != nil {
		row[ColumnDisplayName] = *user.DisplayName
	}
	if user.SystemID != nil {
		row[ColumnSystemID] = *user.SystemID
	}
	if user.VerifiedAt != nil {
		row[ColumnVerifiedAt] = FormatTimestamp(*user.VerifiedAt)
	}
	return row
}

// DehydrateIdentifier converts a link between userID and id into a
// user_identifiers row.
func (h *UserHydration) DehydrateIdentifier(userID string, id domain.Identifier) Row {
	return Row{
		ColumnUserID:       userID,
		ColumnProvider:     id.Provider(),
		ColumnIdentifierID: id.ID(),
		ColumnRawData:      id.JSONData(),
	}
}

// Hydrate builds a new user from row.
func (h *UserHydration) Hydrate(row Row) *domain.User {
	user := &domain.User{AdditionalData: map[string]any{}}
	h.Update(user, row)
	return user
}

// Update merges row into user. Only keys present in row are applied, so a
// partial projection leaves the remaining fields untouched. A present key
// with a nil value resets that field.
func (h *UserHydration) Update(user *domain.User, row Row) {
	if v, ok := row[ColumnID]; ok {
		user.ID, _ = asString(v)
	}
	if v, ok := row[ColumnEmail]; ok {
		user.Email, _ = asString(v)
	}
	if v, ok := row[ColumnDisplayName]; ok {
		user.DisplayName = asStringPtr(v)
	}
	if v, ok := row[ColumnAdditionalData]; ok {
		user.SetAdditionalData(asDocument(v))
	}
	if v, ok := row[ColumnSystemID]; ok {
		user.SystemID = asStringPtr(v)
	}
	if v, ok := row[ColumnVerifiedAt]; ok {
		if v == nil {
			user.VerifiedAt = nil
		} else if t, ok := ParseTimestamp(v); ok {
			user.VerifiedAt = &t
		}
	}
	if v, ok := row[ColumnIdentifiers]; ok {
		user.Identifiers = h.identifiers(v)
	}
}

func (h *UserHydration) identifiers(v any) domain.Identifiers {
	var set domain.Identifiers
	add := func(entry any) {
		if id, ok := asIdentifier(entry); ok {
			set.Put(id)
		}
	}

	switch entries := v.(type) {
	case domain.Identifiers:
		return entries.Clone()
	case []domain.Identifier:
		for _, e := range entries {
			add(e)
		}
	case []Row:
		for _, e := range entries {
			add(e)
		}
	case []map[string]any:
		for _, e := range entries {
			add(e)
		}
	case []any:
		for _, e := range entries {
			add(e)
		}
	case map[string]any:
		for _, e := range entries {
			add(e)
		}
	}
	return set
}

func asIdentifier(entry any) (domain.Identifier, bool) {
	var fields map[string]any
	switch e := entry.(type) {
	case domain.Identifier:
		return e, e.Valid()
	case *domain.Identifier:
		if e == nil {
			return domain.Identifier{}, false
		}
		return *e, e.Valid()
	case Row:
		fields = e
	case map[string]any:
		fields = e
	default:
		return domain.Identifier{}, false
	}

	provider, _ := asString(fields[ColumnProvider])
	id, _ := asString(fields[ColumnID])
	if id == "" {
		id, _ = asString(fields[ColumnIdentifierID])
	}
	if provider == "" || id == "" {
		return domain.Identifier{}, false
	}
	return domain.NewIdentifier(provider, id, asDocument(fields[ColumnRawData])), true
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts a time.Time or ISO-like text and returns the
// instant in UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}

	s, ok := asString(v)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	case int32:
		return strconv.FormatInt(int64(s), 10), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

func asStringPtr(v any) *string {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	return &s
}

// asDocument decodes a JSON document column. Anything undecodable becomes an
// empty document.
func asDocument(v any) map[string]any {
	var p Payload
	switch d := v.(type) {
	case nil:
		return map[string]any{}
	case Payload:
		p = d
	case map[string]any:
		p = StructuredPayload(d)
	case Row:
		p = StructuredPayload(d)
	case string:
		p = EncodedPayload(d)
	case []byte:
		p = EncodedPayload(string(d))
	case json.RawMessage:
		p = EncodedPayload(string(d))
	default:
		return map[string]any{}
	}
	m, err := p.Map()
	if err != nil {
		return map[string]any{}
	}
	return m
}
