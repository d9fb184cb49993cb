// Package registry owns every live session and every pending redirect.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hybrasyl/server-sub005/types"
)

var (
	ErrDuplicateConnection = errors.New("registry: duplicate connection id")
	ErrUnknownConnection   = errors.New("registry: unknown connection id")
	ErrRedirectNotFound    = errors.New("registry: redirect not found")
)

type Registry struct {
	nextID       atomic.Uint32
	nextRedirect atomic.Uint32

	mu       sync.RWMutex
	sessions map[uint32]*types.Session

	rmu       sync.Mutex
	redirects map[uint32]*Redirect

	now func() time.Time
}

func New() *Registry {
	return &Registry{
		sessions:  make(map[uint32]*types.Session),
		redirects: make(map[uint32]*Redirect),
		now:       time.Now,
	}
}

// SetClock replaces the time source used to stamp redirects.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) Now() time.Time { return r.now() }

// NextID returns a fresh connection id. Ids start at 1.
func (r *Registry) NextID() uint32 {
	return r.nextID.Add(1)
}

func (r *Registry) Register(s *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicateConnection
	}
	r.sessions[s.ID] = s
	return nil
}

// Deregister removes a session and cancels every redirect it owns.
func (r *Registry) Deregister(id uint32) (*types.Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.CancelRedirectsFor(id)
	}
	return s, ok
}

func (r *Registry) Lookup(id uint32) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the live sessions.
func (r *Registry) Sessions() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) addRedirect(rd *Redirect) {
	r.rmu.Lock()
	r.redirects[rd.ID] = rd
	r.rmu.Unlock()
}

// claimRedirect removes and returns the redirect id if it targets role and
// matches the presented triple exactly.
func (r *Registry) claimRedirect(id uint32, role types.Role, name string, seed byte, key []byte) (*Redirect, error) {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	rd, ok := r.redirects[id]
	if !ok || rd.To != role || !rd.Matches(name, seed, key) {
		return nil, ErrRedirectNotFound
	}
	delete(r.redirects, id)
	return rd, nil
}

// CancelRedirect removes a pending redirect.
func (r *Registry) CancelRedirect(id uint32) (*Redirect, bool) {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	rd, ok := r.redirects[id]
	delete(r.redirects, id)
	return rd, ok
}

// CancelRedirectsFor removes every pending redirect owned by a connection.
func (r *Registry) CancelRedirectsFor(connID uint32) []*Redirect {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	var out []*Redirect
	for id, rd := range r.redirects {
		if rd.Session.ID == connID {
			delete(r.redirects, id)
			out = append(out, rd)
		}
	}
	return out
}

// PendingRedirects returns the number of unclaimed redirects.
func (r *Registry) PendingRedirects() int {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	return len(r.redirects)
}

// ExpiredRedirects lists pending redirects older than ttl without removing them.
func (r *Registry) ExpiredRedirects(ttl time.Duration) []*Redirect {
	now := r.now()
	r.rmu.Lock()
	defer r.rmu.Unlock()
	var out []*Redirect
	for _, rd := range r.redirects {
		if now.Sub(rd.Created) >= ttl {
			out = append(out, rd)
		}
	}
	return out
}
