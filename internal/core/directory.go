package core

import (
	"strings"
	"sync"
)

// Directory is the process-wide username → session table. Registration is an
// atomic check-and-insert, which is what makes usernames unique under
// concurrent authentication. Keys are case-sensitive.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

// Register claims a username for a session. Returns ErrInvalidUsername for
// blank names and ErrUsernameTaken when the name is already claimed.
func (d *Directory) Register(name string, s *Session) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidUsername
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sessions[name]; exists {
		return ErrUsernameTaken
	}
	d.sessions[name] = s
	return nil
}

// Unregister releases a username at disconnect.
func (d *Directory) Unregister(name string) {
	d.mu.Lock()
	delete(d.sessions, name)
	d.mu.Unlock()
}

// Lookup resolves a username to its session, for private messaging.
func (d *Directory) Lookup(name string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[name]
	return s, ok
}

// Count returns the number of authenticated sessions.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Each calls fn for every registered session. Used at shutdown to close
// connections.
func (d *Directory) Each(fn func(*Session)) {
	d.mu.RLock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}
