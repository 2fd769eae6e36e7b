package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"keyrelay/internal/keys"
)

func newSession(t *testing.T, user UserID, c *Client) *Session {
	t.Helper()
	kp, err := keys.Generate(nil)
	require.NoError(t, err)
	return &Session{UserID: user, Username: string(user), client: c, keys: kp}
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	require := require.New(t)
	r := NewRegistry()
	c1, c2, c3 := NewClient("1", 1), NewClient("2", 1), NewClient("3", 1)

	require.Nil(r.Admit(newSession(t, "a", c1)))
	require.Nil(r.Admit(newSession(t, "b", c2)))
	prev := r.Admit(newSession(t, "a", c3))
	require.NotNil(prev)
	require.Same(c1, prev.Client())

	snap := r.Snapshot()
	require.Len(snap, 2)
	require.Equal(UserID("a"), snap[0].UserID)
	require.Equal(UserID("b"), snap[1].UserID)

	s, ok := r.Lookup("a")
	require.True(ok)
	require.Same(c3, s.Client())
}

func TestRegistryReplaceWipesOldKeys(t *testing.T) {
	require := require.New(t)
	r := NewRegistry()
	old := newSession(t, "a", NewClient("1", 1))
	r.Admit(old)

	pk, err := keys.ImportPublic(old.PublicKey())
	require.NoError(err)
	ct, err := keys.Seal(pk, []byte("x"))
	require.NoError(err)

	r.Admit(newSession(t, "a", NewClient("2", 1)))
	_, err = old.keys.Open(ct)
	require.ErrorIs(err, keys.ErrDecrypt)
}

func TestRegistryEvictOnlyMatchingClient(t *testing.T) {
	require := require.New(t)
	r := NewRegistry()
	c1, c2 := NewClient("1", 1), NewClient("2", 1)
	r.Admit(newSession(t, "a", c1))
	r.Admit(newSession(t, "b", c2))

	gone := r.Evict(c1)
	require.Len(gone, 1)
	require.Equal(UserID("a"), gone[0].UserID)
	require.Empty(r.Evict(c1))
	require.Equal(1, r.Len())

	_, ok := r.Lookup("a")
	require.False(ok)
	_, ok = r.Lookup("b")
	require.True(ok)
}

func TestRegistrySnapshotEmptyIsNotNil(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Snapshot())
	r.Admit(newSession(t, "a", NewClient("1", 1)))
	r.Clear()
	require.Zero(t, r.Len())
	require.Empty(t, r.Snapshot())
}
