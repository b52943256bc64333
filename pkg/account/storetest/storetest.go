// Package storetest is a conformance suite every account.Store must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/account"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) account.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("CaseInsensitive", func(t *testing.T) { testCaseInsensitive(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListSorted", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("RejectsBadName", func(t *testing.T) { testBadName(t, newStore(t)) })
}

func mustAccount(t *testing.T, name, password string) *account.UserAccount {
	t.Helper()
	u, err := account.NewUserAccount(name, password)
	require.NoError(t, err)
	u.Created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return u
}

func testPutGet(t *testing.T, s account.Store) {
	defer s.Close()
	ctx := context.Background()

	u := mustAccount(t, "alice", "Secret1!")
	u.FullName = "Alice Example"
	u.Comment = "finance"
	require.NoError(t, s.Put(ctx, u))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, "Alice Example", got.FullName)
	assert.Equal(t, "finance", got.Comment)
	assert.Equal(t, u.NTHash, got.NTHash)
	assert.True(t, got.CheckPassword("Secret1!"))
	assert.True(t, u.Created.Equal(got.Created))

	got.Disabled = true
	require.NoError(t, s.Put(ctx, got))
	got, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	_, err = s.Get(ctx, "bob")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func testCaseInsensitive(t *testing.T, s account.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, mustAccount(t, "Bob", "one")))
	require.NoError(t, s.Put(ctx, mustAccount(t, "BOB", "two")))

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "BOB", users[0].Name)

	got, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, got.CheckPassword("two"))
}

func testDelete(t *testing.T, s account.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, mustAccount(t, "carol", "x")))
	require.NoError(t, s.Delete(ctx, "CAROL"))
	_, err := s.Get(ctx, "carol")
	assert.ErrorIs(t, err, account.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "carol"), account.ErrNotFound)
}

func testList(t *testing.T, s account.Store) {
	defer s.Close()
	ctx := context.Background()

	for _, name := range []string{"zed", "Amy", "mike"} {
		require.NoError(t, s.Put(ctx, mustAccount(t, name, "pw")))
	}
	users, err := s.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, u := range users {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Amy", "mike", "zed"}, names)
}

func testBadName(t *testing.T, s account.Store) {
	defer s.Close()
	err := s.Put(context.Background(), &account.UserAccount{Name: `dom\user`})
	assert.ErrorIs(t, err, account.ErrInvalidName)
}
