package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sumire/userlink/internal/domain"
)

func TestIdentifierAccessors(t *testing.T) {
	raw := map[string]any{"sub": "abc123", "email": "a@b.com"}
	id := domain.NewIdentifier("google", "abc123", raw)

	require.Equal(t, "google", id.Provider())
	require.Equal(t, "abc123", id.ID())
	require.Equal(t, raw, id.RawData())
	require.True(t, id.Valid())
	require.Equal(t, "google:abc123", id.String())

	raw["sub"] = "changed"
	require.Equal(t, "abc123", id.RawData()["sub"])
}

func TestIdentifierJSONData(t *testing.T) {
	id := domain.NewIdentifier("github", "42", map[string]any{"login": "octocat"})
	require.JSONEq(t, `{"login":"octocat"}`, id.JSONData())

	empty := domain.NewIdentifier("github", "42", nil)
	require.Equal(t, "{}", empty.JSONData())
	require.Equal(t, map[string]any{}, empty.RawData())
}

func TestIdentifierJSONDataFallsBackOnEncodeFailure(t *testing.T) {
	id := domain.NewIdentifier("google", "x", map[string]any{"ch": make(chan int)})
	require.Equal(t, "{}", id.JSONData())
}

func TestIdentifierValid(t *testing.T) {
	require.False(t, domain.NewIdentifier("", "x", nil).Valid())
	require.False(t, domain.NewIdentifier("google", "", nil).Valid())
}

func TestIdentifierMarshalJSON(t *testing.T) {
	id := domain.NewIdentifier("google", "abc", map[string]any{"hd": "example.com"})
	b, err := json.Marshal(id)
	require.NoError(t, err)
	require.JSONEq(t, `{"provider":"google","id":"abc","raw_data":{"hd":"example.com"}}`, string(b))
}
