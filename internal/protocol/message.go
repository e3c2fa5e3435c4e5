package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the wire format for every message on the signaling channel,
// in both directions.
type Envelope struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	SessionToken string          `json:"sessionToken,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
}

// Client -> server message types.
const (
	TypeRegisterUser = "register-user"
	TypeFindMatch    = "find-match"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeLeaveRoom    = "leave-room"
	TypeGetStats     = "get-stats"
)

// Server -> client message types.
const (
	TypeRegistrationSuccess = "registration-success"
	TypeSearchStarted       = "search-started"
	TypeNoMatch             = "no-match"
	TypeRoomJoined          = "room-joined"
	TypeUserLeft            = "user-left"
	TypeServerStats         = "server-stats"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMalformedPayload   = errors.New("malformed signaling payload")
)

// inbound is the allow-list of types a client may send. Anything else is
// dropped at the boundary.
var inbound = map[string]bool{
	TypeRegisterUser: true,
	TypeFindMatch:    true,
	TypeOffer:        true,
	TypeAnswer:       true,
	TypeICECandidate: true,
	TypeLeaveRoom:    true,
	TypeGetStats:     true,
}

// roomScoped marks the types that can only be relayed between the two
// participants of an active room.
var roomScoped = map[string]bool{
	TypeOffer:        true,
	TypeAnswer:       true,
	TypeICECandidate: true,
}

// AllowedInbound reports whether t is a recognized client->server type.
func AllowedInbound(t string) bool { return inbound[t] }

// RequiresRoom reports whether messages of type t may only be sent while the
// sender is in a room.
func RequiresRoom(t string) bool { return roomScoped[t] }

// Decode parses a raw frame into an Envelope and checks the type against the
// inbound allow-list.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	if !AllowedInbound(env.Type) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, env.Type)
	}
	return &env, nil
}

// NewEnvelope builds an Envelope of the given type, marshalling data into the
// Data field and stamping the current time.
func NewEnvelope(t string, data any) (*Envelope, error) {
	env := &Envelope{Type: t, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = b
	}
	return env, nil
}

// MustEnvelope is NewEnvelope for payload types owned by this package, whose
// marshalling cannot fail.
func MustEnvelope(t string, data any) *Envelope {
	env, err := NewEnvelope(t, data)
	if err != nil {
		panic(err)
	}
	return env
}
