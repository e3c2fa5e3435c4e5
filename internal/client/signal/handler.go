package signal

import (
	"github.com/pairlink/pairlink/internal/protocol"
)

// Handler routes incoming server messages to typed channels. Room-scoped
// signaling (offer/answer/ice-candidate) stays on a single ordered channel so
// the negotiation engine processes it in arrival order. The other channels
// carry latest-state notifications; a send to an unread notification channel
// drops the event rather than stalling the router.
//
// Start owns the channels: it closes all of them when the connection's
// incoming stream ends, so consumers observe closure exactly once.
type Handler struct {
	client *Client

	Registered    chan string
	SearchStarted chan struct{}
	NoMatch       chan struct{}
	RoomJoined    chan *protocol.RoomJoinedPayload
	UserLeft      chan string
	ServerStats   chan *protocol.ServerStatsPayload
	Signal        chan *protocol.Envelope
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:        client,
		Registered:    make(chan string, 1),
		SearchStarted: make(chan struct{}, 1),
		NoMatch:       make(chan struct{}, 1),
		RoomJoined:    make(chan *protocol.RoomJoinedPayload, 1),
		UserLeft:      make(chan string, 1),
		ServerStats:   make(chan *protocol.ServerStatsPayload, 1),
		Signal:        make(chan *protocol.Envelope, 32),
	}
}

// Start consumes the client's incoming stream until the connection drops,
// then closes every handler channel.
func (h *Handler) Start() {
	defer func() {
		close(h.Registered)
		close(h.SearchStarted)
		close(h.NoMatch)
		close(h.RoomJoined)
		close(h.UserLeft)
		close(h.ServerStats)
		close(h.Signal)
	}()

	for env := range h.client.Incoming() {
		switch env.Type {

		case protocol.TypeRegistrationSuccess:
			var p protocol.RegistrationSuccessPayload
			if env.DecodeData(&p) == nil {
				select {
				case h.Registered <- p.SocketID:
				default:
				}
			}

		case protocol.TypeSearchStarted:
			select {
			case h.SearchStarted <- struct{}{}:
			default:
			}

		case protocol.TypeNoMatch:
			select {
			case h.NoMatch <- struct{}{}:
			default:
			}

		case protocol.TypeRoomJoined:
			var p protocol.RoomJoinedPayload
			if env.DecodeData(&p) == nil {
				select {
				case h.RoomJoined <- &p:
				default:
				}
			}

		case protocol.TypeUserLeft:
			var p protocol.UserLeftPayload
			if env.DecodeData(&p) == nil {
				select {
				case h.UserLeft <- p.From:
				default:
				}
			}

		case protocol.TypeServerStats:
			var p protocol.ServerStatsPayload
			if env.DecodeData(&p) == nil {
				select {
				case h.ServerStats <- &p:
				default:
				}
			}

		case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
			h.Signal <- env

		default:
		}
	}
}
