package server

import (
	"errors"
	"sync"
)

// ErrDuplicateSession is returned by [Manager.Add] when the session id is
// already in use by a live session.
var ErrDuplicateSession = errors.New("server: session id already in use")

// ErrDraining is returned by [Manager.Add] once [Manager.CloseAll] has run.
var ErrDraining = errors.New("server: shutting down")

// ManagedSession is the handle the manager needs from a live session.
// *session.Session satisfies it.
type ManagedSession interface {
	ID() string
	Close()
}

// Manager tracks live sessions by id so the server can enforce id uniqueness
// and close every session on shutdown. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]ManagedSession
	draining bool
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]ManagedSession)}
}

// Add registers a session under its id. Returns [ErrDuplicateSession] when
// the id is taken and [ErrDraining] after CloseAll.
func (m *Manager) Add(s ManagedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return ErrDraining
	}
	if _, ok := m.sessions[s.ID()]; ok {
		return ErrDuplicateSession
	}
	m.sessions[s.ID()] = s
	return nil
}

// Remove drops the session with the given id, freeing the id for reuse.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every live session and rejects subsequent Adds. Sessions
// unregister themselves as their Run loops unwind.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.draining = true
	live := make([]ManagedSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Close()
	}
}
