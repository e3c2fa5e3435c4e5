// Package hub ties the websocket layer to the matchmaking core: it owns the
// live connections, dispatches validated inbound messages to the session
// registry, pool, rooms and relay, and runs disconnect teardown.
package hub

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/match"
	"github.com/pairlink/pairlink/internal/protocol"
	"github.com/pairlink/pairlink/internal/relay"
	"github.com/pairlink/pairlink/internal/room"
	"github.com/pairlink/pairlink/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,

	// The signaling channel carries no credentials and peers are anonymous;
	// deployments that pin a frontend origin wrap this in their own check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Hub struct {
	registry *session.Registry
	pool     *match.Pool
	rooms    *room.Manager
	relay    *relay.Relay
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Client
}

// New wires the matchmaking core together. A zero policy or matchTimeout
// selects the defaults.
func New(policy relay.Policy, matchTimeout time.Duration, log zerolog.Logger) *Hub {
	h := &Hub{
		registry: session.NewRegistry(),
		log:      log.With().Str("component", "hub").Logger(),
		conns:    make(map[string]*Client),
	}
	h.rooms = room.NewManager(log)
	h.pool = match.NewPool(h.registry, h.rooms, h, matchTimeout, log)
	h.relay = relay.New(policy, h.rooms, h, log)
	return h
}

// Deliver implements the Sender consumed by the pool and relay. Delivery is
// fire-and-forget: a gone or saturated connection drops the message. Safe
// against a concurrent disconnect of the same session; c.send stays open for
// the life of the process.
func (h *Hub) Deliver(sessionID string, env *protocol.Envelope) {
	h.mu.Lock()
	c, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	select {
	case c.send <- env:
	case <-c.done:
	default:
		h.log.Warn().Str("session_id", sessionID).Str("type", env.Type).
			Msg("Send buffer full, dropping message")
	}
}

// ServeWS upgrades the HTTP request and starts the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan *protocol.Envelope, sendBuffer),
		done: make(chan struct{}),
	}
	c.log = h.log.With().Str("session_id", c.ID).Logger()

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	c.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("Connection opened")

	go c.writePump()
	go c.readPump()
}

// handleMessage validates one inbound frame and dispatches it. Validation
// failures are logged and the message dropped; the sender gets no error
// reply.
func (h *Hub) handleMessage(c *Client, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("Dropping undecodable message")
		return
	}

	if err := h.relay.Admit(c.ID, len(raw), env); err != nil {
		level := zerolog.WarnLevel
		if errors.Is(err, relay.ErrRateLimited) {
			level = zerolog.DebugLevel
		}
		c.log.WithLevel(level).Err(err).Str("type", env.Type).Msg("Dropping message")
		return
	}

	switch env.Type {
	case protocol.TypeRegisterUser:
		h.handleRegister(c, env)

	case protocol.TypeFindMatch:
		var p protocol.FindMatchPayload
		prefs := &p.Preferences
		if len(env.Data) == 0 {
			prefs = nil
		} else if err := env.DecodeData(&p); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed find-match")
			return
		}
		if err := h.pool.RequestMatch(c.ID, prefs); err != nil {
			c.log.Warn().Err(err).Msg("find-match refused")
		}

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		if err := h.relay.Forward(c.ID, env); err != nil {
			c.log.Warn().Err(err).Str("type", env.Type).Msg("Relay refused message")
		}

	case protocol.TypeLeaveRoom:
		h.leaveRoom(c.ID)

	case protocol.TypeGetStats:
		h.Deliver(c.ID, protocol.MustEnvelope(protocol.TypeServerStats, h.Stats()))
	}
}

func (h *Hub) handleRegister(c *Client, env *protocol.Envelope) {
	var p protocol.RegisterUserPayload
	if err := env.DecodeData(&p); err != nil {
		c.log.Warn().Err(err).Msg("Dropping malformed register-user")
		return
	}
	if err := p.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("Dropping invalid register-user")
		return
	}

	if _, err := h.registry.Register(c.ID, p.UserSession); err != nil {
		c.log.Warn().Err(err).Msg("Registration refused")
		return
	}

	c.log.Info().Str("user_id", p.UserSession.UserID).Msg("Session registered")
	h.Deliver(c.ID, protocol.MustEnvelope(protocol.TypeRegistrationSuccess,
		protocol.RegistrationSuccessPayload{SocketID: c.ID}))
}

// leaveRoom tears down the sender's room and notifies the partner. Both
// sessions stay registered and can find a new match immediately.
func (h *Hub) leaveRoom(sessionID string) {
	if _, partner, ok := h.rooms.Remove(sessionID); ok {
		h.Deliver(partner, protocol.MustEnvelope(protocol.TypeUserLeft,
			protocol.UserLeftPayload{From: sessionID}))
	}
}

// disconnect runs the full teardown for a closed connection: pool removal,
// room teardown with partner notification, registry and limiter cleanup.
// Safe to run concurrently with in-flight relays touching the same session;
// the stores re-check membership.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	_, open := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()
	if !open {
		return
	}

	h.pool.Leave(c.ID)
	h.leaveRoom(c.ID)
	h.registry.Remove(c.ID)
	h.relay.Forget(c.ID)

	close(c.done)
	c.log.Info().Msg("Connection closed")
}

// Stats is a point-in-time snapshot of store sizes.
func (h *Hub) Stats() protocol.ServerStatsPayload {
	return protocol.ServerStatsPayload{
		Sessions: h.registry.Count(),
		Waiting:  h.pool.Waiting(),
		Rooms:    h.rooms.Count(),
	}
}
