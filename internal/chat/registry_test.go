package chat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(&streamConn{r: bytes.NewReader(nil)}, "test", 0, nil, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserRegistry_SetGetRemove(t *testing.T) {
	r := NewUserRegistry()
	s := newTestSession(t)

	assert.Nil(t, r.SetUserSession(7, s))
	got, ok := r.GetSession(7)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())

	r.RemoveUserSession(7)
	_, ok = r.GetSession(7)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestUserRegistry_ReloginReplacesAndOldTeardownKeepsNew(t *testing.T) {
	r := NewUserRegistry()
	old := newTestSession(t)
	cur := newTestSession(t)

	r.SetUserSession(7, old)
	prev := r.SetUserSession(7, cur)
	assert.Same(t, old, prev)

	assert.False(t, r.RemoveSessionIfCurrent(7, old))
	got, ok := r.GetSession(7)
	require.True(t, ok)
	assert.Same(t, cur, got)

	assert.True(t, r.RemoveSessionIfCurrent(7, cur))
	assert.Zero(t, r.Len())
}

func TestUserRegistry_Lookup(t *testing.T) {
	r := NewUserRegistry()
	_, ok := r.Lookup(1)
	assert.False(t, ok)

	s := newTestSession(t)
	r.SetUserSession(1, s)
	sender, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, s, sender)
}
