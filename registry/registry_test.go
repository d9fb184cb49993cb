package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybrasyl/server-sub005/types"
)

func newSession(t *testing.T, r *Registry, role types.Role) *types.Session {
	t.Helper()
	s := types.NewSession(r.NextID(), role, nil, time.Now())
	require.NoError(t, r.Register(s))
	return s
}

func TestRegisterLookupDeregister(t *testing.T) {
	r := New()
	a := newSession(t, r, types.Lobby)
	b := newSession(t, r, types.Lobby)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, r.Count())

	got, ok := r.Lookup(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.ErrorIs(t, r.Register(a), ErrDuplicateConnection)

	got, ok = r.Deregister(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = r.Lookup(a.ID)
	assert.False(t, ok)
	_, ok = r.Deregister(a.ID)
	assert.False(t, ok)
	assert.Len(t, r.Sessions(), 1)
}

func TestConcurrentRegistration(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := types.NewSession(r.NextID(), types.World, nil, time.Now())
			assert.NoError(t, r.Register(s))
			_, ok := r.Lookup(s.ID)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, r.Count())
}

func TestRedirectSingleUse(t *testing.T) {
	r := New()
	b := NewBroker(r)
	s := newSession(t, r, types.Login)

	rd, err := b.CreateRedirect(s, types.Login, types.World, "Aisling")
	require.NoError(t, err)
	assert.True(t, s.Has(types.SESS_REDIRECTING))
	assert.Equal(t, 1, r.PendingRedirects())

	got, err := b.Resolve(rd.ID, types.World, "Aisling", rd.Seed, rd.Key)
	require.NoError(t, err)
	assert.Same(t, s, got.Session)
	assert.Equal(t, rd.Seed, s.Seed())
	assert.Equal(t, rd.Key, s.Key())
	assert.False(t, s.Has(types.SESS_REDIRECTING))
	assert.Zero(t, r.PendingRedirects())

	_, err = b.Resolve(rd.ID, types.World, "Aisling", rd.Seed, rd.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)
}

func TestRedirectExactness(t *testing.T) {
	r := New()
	b := NewBroker(r)
	s := newSession(t, r, types.Lobby)
	rd, err := b.CreateRedirect(s, types.Lobby, types.Login, "socket")
	require.NoError(t, err)

	key := append([]byte(nil), rd.Key...)
	key[3] ^= 0x01
	_, err = b.Resolve(rd.ID, types.Login, "socket", rd.Seed, key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)

	_, err = b.Resolve(rd.ID, types.Login, "socket", rd.Seed+1, rd.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)

	_, err = b.Resolve(rd.ID, types.Login, "SOCKET", rd.Seed, rd.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)

	_, err = b.Resolve(rd.ID, types.Login, "socket", rd.Seed, rd.Key[:len(rd.Key)-1])
	assert.ErrorIs(t, err, ErrRedirectNotFound)

	_, err = b.Resolve(rd.ID, types.World, "socket", rd.Seed, rd.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound, "wrong destination role")

	_, err = b.Resolve(rd.ID+1, types.Login, "socket", rd.Seed, rd.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)

	// failed attempts do not consume it
	_, err = b.Resolve(rd.ID, types.Login, "socket", rd.Seed, rd.Key)
	assert.NoError(t, err)
}

func TestRedirectCancelledWithSession(t *testing.T) {
	r := New()
	b := NewBroker(r)
	s := newSession(t, r, types.Lobby)
	rd, err := b.CreateRedirect(s, types.Lobby, types.Login, "socket")
	require.NoError(t, err)

	r.Deregister(s.ID)
	assert.Zero(t, r.PendingRedirects())
	_, err = b.Resolve(rd.ID, types.Login, "socket", rd.Seed, rd.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)
}

func TestNewRedirectReplacesOld(t *testing.T) {
	r := New()
	b := NewBroker(r)
	s := newSession(t, r, types.Lobby)
	first, err := b.CreateRedirect(s, types.Lobby, types.Login, "socket")
	require.NoError(t, err)
	second, err := b.CreateRedirect(s, types.Lobby, types.Login, "socket")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, r.PendingRedirects())

	_, err = b.Resolve(first.ID, types.Login, "socket", first.Seed, first.Key)
	assert.ErrorIs(t, err, ErrRedirectNotFound)
}

func TestExpiredRedirects(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := New()
	r.SetClock(func() time.Time { return now })
	b := NewBroker(r)
	s := newSession(t, r, types.Lobby)
	rd, err := b.CreateRedirect(s, types.Lobby, types.Login, "socket")
	require.NoError(t, err)

	assert.Empty(t, r.ExpiredRedirects(30*time.Second))
	now = now.Add(30 * time.Second)
	expired := r.ExpiredRedirects(30 * time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, rd.ID, expired[0].ID)
	assert.Equal(t, 1, r.PendingRedirects(), "listing does not cancel")

	_, ok := r.CancelRedirect(rd.ID)
	assert.True(t, ok)
	assert.Zero(t, r.PendingRedirects())
}
