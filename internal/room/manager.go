// Package room owns the lifecycle of two-party call rooms.
package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAlreadyRoomed = errors.New("session already in a room")

// Room pairs exactly two distinct sessions for one call.
type Room struct {
	ID        string
	A         string
	B         string
	CreatedAt time.Time
}

// Partner returns the other participant's session id.
func (r *Room) Partner(sessionID string) (string, bool) {
	switch sessionID {
	case r.A:
		return r.B, true
	case r.B:
		return r.A, true
	}
	return "", false
}

type Manager struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	byMember map[string]*Room
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		byMember: make(map[string]*Room),
		log:      log.With().Str("component", "rooms").Logger(),
	}
}

// Create pairs two sessions into a fresh room. A session that already has a
// room cannot be paired again; that is an invariant violation upstream, so it
// is logged loudly and refused rather than papered over.
func (m *Manager) Create(a, b string) (*Room, error) {
	if a == b {
		return nil, fmt.Errorf("%w: cannot pair %q with itself", ErrAlreadyRoomed, a)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []string{a, b} {
		if existing, ok := m.byMember[id]; ok {
			m.log.Error().Str("session_id", id).Str("room_id", existing.ID).
				Msg("Refusing to double-pair session")
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRoomed, id)
		}
	}

	r := &Room{
		ID:        uuid.NewString(),
		A:         a,
		B:         b,
		CreatedAt: time.Now(),
	}
	m.rooms[r.ID] = r
	m.byMember[a] = r
	m.byMember[b] = r

	m.log.Info().Str("room_id", r.ID).Str("a", a).Str("b", b).Msg("Room created")
	return r, nil
}

// Of returns the room a session belongs to.
func (m *Manager) Of(sessionID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byMember[sessionID]
	return r, ok
}

// PartnerOf resolves the other participant of the session's room.
func (m *Manager) PartnerOf(sessionID string) (roomID, partner string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byMember[sessionID]
	if !ok {
		return "", "", false
	}
	partner, _ = r.Partner(sessionID)
	return r.ID, partner, true
}

// Remove tears down the session's room, returning the partner so the caller
// can notify them. Idempotent: a second remove for either participant of an
// already-deleted room reports ok=false and does nothing.
func (m *Manager) Remove(sessionID string) (roomID, partner string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byMember[sessionID]
	if !ok {
		return "", "", false
	}

	delete(m.rooms, r.ID)
	delete(m.byMember, r.A)
	delete(m.byMember, r.B)

	partner, _ = r.Partner(sessionID)
	m.log.Info().Str("room_id", r.ID).Str("left", sessionID).Msg("Room removed")
	return r.ID, partner, true
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
