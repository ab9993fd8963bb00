package chat

import (
	"sync"

	"github.com/Jam-Ngai/chatserver/internal/router"
)

// UserRegistry maps logged-in user ids to the sessions hosted here.
type UserRegistry struct {
	mu    sync.Mutex
	users map[int]*Session
}

func NewUserRegistry() *UserRegistry {
	return &UserRegistry{users: make(map[int]*Session)}
}

// SetUserSession binds uid to s and returns the session it replaced, if any.
func (r *UserRegistry) SetUserSession(uid int, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.users[uid]
	r.users[uid] = s
	LoggedInUsers.Set(float64(len(r.users)))
	return prev
}

func (r *UserRegistry) GetSession(uid int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.users[uid]
	return s, ok
}

func (r *UserRegistry) RemoveUserSession(uid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, uid)
	LoggedInUsers.Set(float64(len(r.users)))
}

// RemoveSessionIfCurrent removes uid only while it still maps to s.
func (r *UserRegistry) RemoveSessionIfCurrent(uid int, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users[uid] != s {
		return false
	}
	delete(r.users, uid)
	LoggedInUsers.Set(float64(len(r.users)))
	return true
}

func (r *UserRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Lookup lets the router deliver to local sessions.
func (r *UserRegistry) Lookup(uid int) (router.Sender, bool) {
	s, ok := r.GetSession(uid)
	if !ok {
		return nil, false
	}
	return s, true
}
