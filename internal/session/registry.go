// Package session tracks the identity and preferences of every connected
// client. The registry is the single source of truth for "is this session
// alive"; matchmaking and rooms re-check it before acting.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/pairlink/pairlink/internal/protocol"
)

var ErrDuplicateRegistration = errors.New("session already registered")

// Session is one registered, connected client. ID is the server-assigned
// connection-scoped identifier; it is the only identifier other components
// trust for routing.
type Session struct {
	ID          string
	UserID      string
	Preferences protocol.Preferences
	ConnectedAt time.Time
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register binds a user identity to a connection id. Registering the same
// connection twice is refused rather than silently overwritten.
func (r *Registry) Register(sessionID string, user protocol.UserSession) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrDuplicateRegistration
	}

	s := &Session{
		ID:          sessionID,
		UserID:      user.UserID,
		Preferences: user.Preferences,
		ConnectedAt: time.Now(),
	}
	r.sessions[sessionID] = s
	return s, nil
}

// Lookup returns a copy of the session, so callers cannot mutate registry
// state behind the lock.
func (r *Registry) Lookup(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// UpdatePreferences replaces the stored preferences for a session. No-op if
// the session is gone.
func (r *Registry) UpdatePreferences(sessionID string, prefs protocol.Preferences) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.Preferences = prefs
	}
}

// Remove drops the session. Removing an absent session is a no-op; disconnect
// paths may run more than once for the same connection.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
