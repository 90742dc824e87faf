package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sumire/userlink/internal/domain"
)

func TestUserFields(t *testing.T) {
	name := "Test User"
	system := "sys-42"
	verifiedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	user := &domain.User{
		ID:          "123",
		Email:       "test@example.com",
		DisplayName: &name,
		SystemID:    &system,
		VerifiedAt:  &verifiedAt,
	}
	user.SetAdditionalData(map[string]any{"role": "admin"})
	user.SetIdentifiers(domain.NewIdentifier("google", "g1", nil))

	require.Equal(t, map[string]any{"role": "admin"}, user.AdditionalData)
	require.True(t, user.IsVerified())

	id, ok := user.IdentifierByProvider("google")
	require.True(t, ok)
	require.Equal(t, "g1", id.ID())
}

func TestUserIsVerifiedFollowsTimestamp(t *testing.T) {
	user := &domain.User{}
	require.False(t, user.IsVerified())

	now := time.Now()
	user.VerifiedAt = &now
	require.True(t, user.IsVerified())

	user.VerifiedAt = nil
	require.False(t, user.IsVerified())
}

func TestUserSetAdditionalDataNil(t *testing.T) {
	user := &domain.User{}
	user.SetAdditionalData(nil)
	require.NotNil(t, user.AdditionalData)
	require.Empty(t, user.AdditionalData)
}

func TestUserIdentifierMutation(t *testing.T) {
	user := &domain.User{}
	user.AddIdentifier(domain.NewIdentifier("google", "g1", nil))
	user.AddIdentifier(domain.NewIdentifier("google", "g2", nil))
	user.AddIdentifier(domain.NewIdentifier("github", "h1", nil))

	require.Equal(t, 2, user.Identifiers.Len())
	g, _ := user.IdentifierByProvider("google")
	require.Equal(t, "g2", g.ID())

	require.True(t, user.RemoveIdentifier("google"))
	_, ok := user.IdentifierByProvider("google")
	require.False(t, ok)

	user.SetIdentifiers()
	require.Equal(t, 0, user.Identifiers.Len())
}
