// Package match maintains the pool of sessions waiting for a partner and
// pairs them into rooms, oldest waiter first.
package match

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/protocol"
	"github.com/pairlink/pairlink/internal/room"
	"github.com/pairlink/pairlink/internal/session"
)

var ErrNotRegistered = errors.New("session not registered")

// DefaultNoMatchTimeout is how long a session waits before the advisory
// no-match notification is sent.
const DefaultNoMatchTimeout = 30 * time.Second

// Sender delivers an envelope to a connected session. Delivery is
// fire-and-forget; the pool never blocks on it.
type Sender interface {
	Deliver(sessionID string, env *protocol.Envelope)
}

type waiting struct {
	timer *time.Timer
}

// Pool is the FIFO set of sessions seeking a match. The pool mutex is held
// across the entire pop-and-pair step, including room creation, so a session
// can never be paired twice or re-enter the queue mid-pairing.
type Pool struct {
	mu      sync.Mutex
	queue   []string
	waiting map[string]*waiting

	reg     *session.Registry
	rooms   *room.Manager
	send    Sender
	timeout time.Duration
	log     zerolog.Logger
}

func NewPool(reg *session.Registry, rooms *room.Manager, send Sender, timeout time.Duration, log zerolog.Logger) *Pool {
	if timeout <= 0 {
		timeout = DefaultNoMatchTimeout
	}
	return &Pool{
		waiting: make(map[string]*waiting),
		reg:     reg,
		rooms:   rooms,
		send:    send,
		timeout: timeout,
		log:     log.With().Str("component", "match").Logger(),
	}
}

// RequestMatch pairs the session with the earliest distinct waiter, or
// enqueues it when nobody is waiting. Duplicate requests from a session that
// is already waiting or already in a room are logged no-ops.
func (p *Pool) RequestMatch(sessionID string, prefs *protocol.Preferences) error {
	requester, ok := p.reg.Lookup(sessionID)
	if !ok {
		return ErrNotRegistered
	}
	if prefs != nil {
		p.reg.UpdatePreferences(sessionID, *prefs)
		requester.Preferences = *prefs
	}

	p.mu.Lock()

	if _, ok := p.waiting[sessionID]; ok {
		p.mu.Unlock()
		p.log.Debug().Str("session_id", sessionID).Msg("Duplicate find-match while waiting, ignoring")
		return nil
	}
	if _, ok := p.rooms.Of(sessionID); ok {
		p.mu.Unlock()
		p.log.Debug().Str("session_id", sessionID).Msg("find-match while in a room, ignoring")
		return nil
	}

	// Pop the earliest waiter that is still alive. Entries whose session
	// vanished from the registry (disconnect raced the cleanup) are dropped
	// on the way.
	partner, partnerSession, found := p.popLocked(sessionID)
	if !found {
		p.enqueueLocked(sessionID)
		p.mu.Unlock()
		p.send.Deliver(sessionID, protocol.MustEnvelope(protocol.TypeSearchStarted, struct{}{}))
		return nil
	}

	r, err := p.rooms.Create(partner, sessionID)
	if err != nil {
		// Invariant violation; refuse rather than crash. The popped partner
		// goes back to the front of the queue.
		p.log.Error().Err(err).Str("session_id", sessionID).Str("partner", partner).
			Msg("Pairing refused by room manager")
		p.requeueFrontLocked(partner)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.log.Info().Str("room_id", r.ID).Str("a", partner).Str("b", sessionID).Msg("Matched")

	p.send.Deliver(sessionID, protocol.MustEnvelope(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{
		RoomID:  r.ID,
		PeerID:  partner,
		Partner: protocol.PartnerInfo{UserID: partnerSession.UserID, Preferences: partnerSession.Preferences},
	}))
	p.send.Deliver(partner, protocol.MustEnvelope(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{
		RoomID:  r.ID,
		PeerID:  sessionID,
		Partner: protocol.PartnerInfo{UserID: requester.UserID, Preferences: requester.Preferences},
	}))
	return nil
}

// popLocked removes and returns the oldest live waiter other than self.
func (p *Pool) popLocked(self string) (string, session.Session, bool) {
	for len(p.queue) > 0 {
		candidate := p.queue[0]
		p.queue = p.queue[1:]

		w, stillWaiting := p.waiting[candidate]
		if !stillWaiting || candidate == self {
			// Stale queue entry, or the requester itself somehow queued;
			// membership map is authoritative.
			continue
		}

		s, alive := p.reg.Lookup(candidate)
		if !alive {
			w.timer.Stop()
			delete(p.waiting, candidate)
			p.log.Debug().Str("session_id", candidate).Msg("Dropping dead waiting entry")
			continue
		}

		w.timer.Stop()
		delete(p.waiting, candidate)
		return candidate, s, true
	}
	return "", session.Session{}, false
}

func (p *Pool) enqueueLocked(sessionID string) {
	p.queue = append(p.queue, sessionID)
	p.waiting[sessionID] = &waiting{
		timer: time.AfterFunc(p.timeout, func() { p.notifyNoMatch(sessionID) }),
	}
	p.log.Info().Str("session_id", sessionID).Msg("Session waiting for match")
}

func (p *Pool) requeueFrontLocked(sessionID string) {
	p.queue = append([]string{sessionID}, p.queue...)
	p.waiting[sessionID] = &waiting{
		timer: time.AfterFunc(p.timeout, func() { p.notifyNoMatch(sessionID) }),
	}
}

// notifyNoMatch fires after the waiting timeout. Advisory only: the session
// stays in the pool and the client decides whether to keep waiting.
func (p *Pool) notifyNoMatch(sessionID string) {
	p.mu.Lock()
	_, stillWaiting := p.waiting[sessionID]
	p.mu.Unlock()

	if !stillWaiting {
		return
	}
	p.log.Debug().Str("session_id", sessionID).Msg("No match within timeout")
	p.send.Deliver(sessionID, protocol.MustEnvelope(protocol.TypeNoMatch, struct{}{}))
}

// Leave removes the session from the pool, if present. Called on explicit
// leave and on disconnect.
func (p *Pool) Leave(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.waiting[sessionID]
	if !ok {
		return
	}
	w.timer.Stop()
	delete(p.waiting, sessionID)
	for i, id := range p.queue {
		if id == sessionID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
}

// Waiting reports the number of sessions in the pool.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}
