// Package control frames the in-call control messages the two peers exchange
// over the "control" data channel: quality hints from the adaptive advisor
// and keepalive pings. The channel is best effort; a call works without it.
package control

import "github.com/vmihailenco/msgpack/v5"

const ChannelLabel = "control"

// Message type constants.
const (
	TypeQualityHint = "quality-hint"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Message represents all control channel messages.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// QualityHintPayload carries the sender's recommended media parameters.
type QualityHintPayload struct {
	BitrateKbps int `msgpack:"bitrateKbps"`
	FPS         int `msgpack:"fps"`
	Width       int `msgpack:"width"`
	Height      int `msgpack:"height"`
}

// PingPayload is a keepalive probe; the peer echoes SentAt back in a pong.
type PingPayload struct {
	SentAt int64 `msgpack:"sentAt"`
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// Marshal builds and serializes a control message.
func Marshal(t string, payload any) ([]byte, error) {
	var raw msgpack.RawMessage
	if payload != nil {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return msgpack.Marshal(Message{Type: t, Payload: raw})
}

// Parse deserializes a control message.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
