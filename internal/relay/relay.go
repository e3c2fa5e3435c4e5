// Package relay validates and forwards signaling payloads between the two
// participants of a room. It is a dumb pipe for SDP and ICE data: beyond
// shape, type and size checks it never interprets the payload.
package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pairlink/pairlink/internal/protocol"
	"github.com/pairlink/pairlink/internal/room"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrOversizedMessage = errors.New("oversized message")
	ErrNoActiveRoom     = errors.New("no active room")
)

// Policy holds the relay's validation knobs.
type Policy struct {
	// MaxMessageBytes caps the serialized envelope size.
	MaxMessageBytes int
	// MessagesPerSecond is the per-sender sustained rate; Burst is the
	// bucket depth. Excess messages are dropped, never queued.
	MessagesPerSecond float64
	Burst             int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxMessageBytes:   64 * 1024,
		MessagesPerSecond: 10,
		Burst:             20,
	}
}

// Sender delivers an envelope to a connected session.
type Sender interface {
	Deliver(sessionID string, env *protocol.Envelope)
}

type Relay struct {
	policy Policy
	rooms  *room.Manager
	send   Sender
	log    zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(policy Policy, rooms *room.Manager, send Sender, log zerolog.Logger) *Relay {
	if policy.MaxMessageBytes <= 0 {
		policy = DefaultPolicy()
	}
	return &Relay{
		policy:   policy,
		rooms:    rooms,
		send:     send,
		log:      log.With().Str("component", "relay").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Admit runs the checks every inbound message must pass before dispatch:
// allow-listed type, size cap, per-sender rate limit. rawLen is the size of
// the frame as read off the wire.
func (r *Relay) Admit(senderID string, rawLen int, env *protocol.Envelope) error {
	if !protocol.AllowedInbound(env.Type) {
		return fmt.Errorf("%w: %q", protocol.ErrInvalidMessageType, env.Type)
	}
	if rawLen > r.policy.MaxMessageBytes {
		return fmt.Errorf("%w: %d bytes", ErrOversizedMessage, rawLen)
	}
	if !r.limiter(senderID).Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, senderID)
	}
	return nil
}

func (r *Relay) limiter(senderID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[senderID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.policy.MessagesPerSecond), r.policy.Burst)
		r.limiters[senderID] = l
	}
	return l
}

// Forget drops the sender's rate-limiter state. Called on disconnect.
func (r *Relay) Forget(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, senderID)
}

// Forward validates a room-scoped message and passes it, with the sender's
// id attached, to the other participant of the sender's room.
func (r *Relay) Forward(senderID string, env *protocol.Envelope) error {
	if !protocol.RequiresRoom(env.Type) {
		return fmt.Errorf("%w: %q is not relayable", protocol.ErrInvalidMessageType, env.Type)
	}

	out, err := r.stamp(senderID, env)
	if err != nil {
		return err
	}

	_, partner, ok := r.rooms.PartnerOf(senderID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveRoom, senderID)
	}

	r.send.Deliver(partner, out)
	return nil
}

// stamp validates the payload shape for the envelope type and rebuilds the
// envelope with From set. The semantic content is untouched.
func (r *Relay) stamp(senderID string, env *protocol.Envelope) (*protocol.Envelope, error) {
	switch env.Type {
	case protocol.TypeOffer, protocol.TypeAnswer:
		var p protocol.SDPPayload
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if err := p.Validate(env.Type); err != nil {
			return nil, err
		}
		if err := protocol.ScreenSDP(p.SDP); err != nil {
			r.securityEvent(senderID, env.Type, err)
			return nil, err
		}
		p.From = senderID
		return protocol.NewEnvelope(env.Type, p)

	case protocol.TypeICECandidate:
		var p protocol.ICECandidatePayload
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			r.securityEvent(senderID, env.Type, err)
			return nil, err
		}
		p.From = senderID
		return protocol.NewEnvelope(env.Type, p)
	}
	return nil, fmt.Errorf("%w: %q", protocol.ErrInvalidMessageType, env.Type)
}

func (r *Relay) securityEvent(senderID, msgType string, err error) {
	r.log.Warn().Str("event", "security").Str("session_id", senderID).
		Str("type", msgType).Err(err).Msg("Dropped suspicious signaling payload")
}
