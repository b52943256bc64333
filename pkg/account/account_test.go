package account

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNTHash(t *testing.T) {
	t.Parallel()
	// well-known NT hashes
	h := NTHash("password")
	assert.Equal(t, "8846f7eaee8fb117ad06bdd830b7586c", hex.EncodeToString(h[:]))
	h = NTHash("")
	assert.Equal(t, "31d6cfe0d16ae931b73c59d7e0c089c0", hex.EncodeToString(h[:]))
}

func TestUserAccountPassword(t *testing.T) {
	t.Parallel()
	u, err := NewUserAccount("alice", "Secret1!")
	require.NoError(t, err)

	assert.True(t, u.CheckPassword("Secret1!"))
	assert.False(t, u.CheckPassword("secret1!"))

	u.SetPassword("other")
	assert.True(t, u.CheckPassword("other"))

	var v UserAccount
	require.NoError(t, v.SetHashHex(u.HashHex()))
	assert.Equal(t, u.NTHash, v.NTHash)
	assert.Error(t, v.SetHashHex("abcd"))
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"alice", "Bob.Smith", "svc-backup", "a"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "dom\\user", "a@b", "trailing.", "averyveryverylongusername"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, bad)
	}
	_, err := NewUserAccount("x*y", "pw")
	assert.ErrorIs(t, err, ErrInvalidName)
}

// ============================================================================
// List
// ============================================================================

func mustAccount(t *testing.T, name, pw string) *UserAccount {
	t.Helper()
	u, err := NewUserAccount(name, pw)
	require.NoError(t, err)
	return u
}

func TestListCaseInsensitive(t *testing.T) {
	t.Parallel()
	l := NewList()

	l.Add(mustAccount(t, "Alice", "one"))
	assert.True(t, l.Has("alice"))
	assert.True(t, l.Has("ALICE"))
	assert.Equal(t, "Alice", l.Find("aLiCe").Name)

	// colliding name replaces the entry
	l.Add(mustAccount(t, "ALICE", "two"))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, "ALICE", l.Find("alice").Name)
	assert.True(t, l.Find("alice").CheckPassword("two"))

	assert.True(t, l.Remove("Alice"))
	assert.False(t, l.Remove("alice"))
	assert.Nil(t, l.Find("alice"))
}

func TestListNamesAndCopies(t *testing.T) {
	t.Parallel()
	l := NewList()
	for _, n := range []string{"zoe", "Adam", "mia"} {
		l.Add(mustAccount(t, n, "pw"))
	}
	assert.Equal(t, []string{"Adam", "mia", "zoe"}, l.Names())

	got := l.Find("adam")
	got.Disabled = true
	assert.False(t, l.Find("adam").Disabled)
}

func TestListAuthenticate(t *testing.T) {
	t.Parallel()
	l := NewList()
	l.Add(mustAccount(t, "bob", "hunter2"))
	off := mustAccount(t, "old", "pw")
	off.Disabled = true
	l.Add(off)

	u, ok := l.Authenticate("BOB", "hunter2")
	require.True(t, ok)
	assert.Equal(t, "bob", u.Name)

	_, ok = l.Authenticate("bob", "wrong")
	assert.False(t, ok)
	_, ok = l.Authenticate("old", "pw")
	assert.False(t, ok)
	_, ok = l.Authenticate("ghost", "pw")
	assert.False(t, ok)
}

type listStore struct{ users []*UserAccount }

func (s *listStore) Get(context.Context, string) (*UserAccount, error) { return nil, ErrNotFound }
func (s *listStore) Put(context.Context, *UserAccount) error           { return nil }
func (s *listStore) Delete(context.Context, string) error              { return nil }
func (s *listStore) List(context.Context) ([]*UserAccount, error)      { return s.users, nil }
func (s *listStore) Close() error                                      { return nil }

func TestListLoad(t *testing.T) {
	t.Parallel()
	l := NewList()
	l.Add(mustAccount(t, "stale", "pw"))

	require.NoError(t, l.Load(context.Background(), &listStore{users: []*UserAccount{
		mustAccount(t, "fresh", "pw"),
	}}))
	assert.Equal(t, []string{"fresh"}, l.Names())
}

func TestListConcurrent(t *testing.T) {
	t.Parallel()
	l := NewList()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "User"
			if i%2 == 0 {
				name = "USER"
			}
			u, _ := NewUserAccount(name, "pw")
			l.Add(u)
			_ = l.Find("user")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, l.Len())
}
