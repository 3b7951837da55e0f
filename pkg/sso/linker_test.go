package sso

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func TestLinker(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	linker := NewLinker(store)
	alice := insertUser(t, store, "alice")

	require.NoError(t, linker.Link(ctx, &OAuthAccountLink{
		Provider:       auth.MethodGoogle,
		ExternalUserID: "g-123",
		UserID:         alice.ID,
	}))

	user, err := linker.UserByExternalID(ctx, auth.MethodGoogle, "g-123")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, "alice", user.Username)

	t.Run("same subject at another provider is a different account", func(t *testing.T) {
		_, err := linker.UserByExternalID(ctx, auth.MethodMicrosoft, "g-123")
		assert.ErrorIs(t, err, auth.ErrResourceNotFound)
	})

	t.Run("duplicate link", func(t *testing.T) {
		bob := insertUser(t, store, "bobby")
		err := linker.Link(ctx, &OAuthAccountLink{
			Provider:       auth.MethodGoogle,
			ExternalUserID: "g-123",
			UserID:         bob.ID,
		})
		assert.ErrorIs(t, err, auth.ErrResourceAlreadyExists)
	})

	t.Run("invalid link", func(t *testing.T) {
		assert.ErrorIs(t, linker.Link(ctx, nil), auth.ErrInvalidArgument)
		assert.ErrorIs(t, linker.Link(ctx, &OAuthAccountLink{Provider: auth.MethodGoogle, UserID: 1}), auth.ErrInvalidArgument)
		_, err := linker.UserByExternalID(ctx, "", "x")
		assert.ErrorIs(t, err, auth.ErrInvalidArgument)
	})

	require.NoError(t, linker.Link(ctx, &OAuthAccountLink{
		Provider:       auth.MethodMicrosoft,
		ExternalUserID: "m-9",
		UserID:         alice.ID,
		Email:          "alice@contoso.com",
		Name:           "Alice Liddell",
	}))
	links, err := linker.LinksForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, auth.MethodGoogle, links[0].Provider)
	assert.Equal(t, "m-9", links[1].ExternalUserID)
	assert.Equal(t, "alice@contoso.com", links[1].Email)
	assert.Equal(t, "Alice Liddell", links[1].Name)
	assert.Empty(t, links[0].Email)
}
