package protocol

import (
	"encoding/json"
	"fmt"
)

const maxUserIDLen = 64

// Preferences are the public matching preferences a client registers with.
type Preferences struct {
	VideoEnabled bool     `json:"videoEnabled"`
	AudioEnabled bool     `json:"audioEnabled"`
	Interests    []string `json:"interests,omitempty"`
}

// UserSession is the client-supplied identity inside a register-user message.
// UserID is opaque to the server; it is echoed to the matched partner only.
type UserSession struct {
	UserID      string      `json:"userId"`
	Preferences Preferences `json:"preferences"`
}

// RegisterUserPayload is the data of a register-user message.
type RegisterUserPayload struct {
	UserSession UserSession `json:"userSession"`
}

func (p *RegisterUserPayload) Validate() error {
	if p.UserSession.UserID == "" {
		return fmt.Errorf("%w: empty userId", ErrMalformedPayload)
	}
	if len(p.UserSession.UserID) > maxUserIDLen {
		return fmt.Errorf("%w: userId exceeds %d bytes", ErrMalformedPayload, maxUserIDLen)
	}
	return nil
}

// FindMatchPayload is the data of a find-match message.
type FindMatchPayload struct {
	Preferences Preferences `json:"preferences"`
}

// SDPPayload is the data of an offer or answer message. From is set by the
// relay before forwarding; clients never fill it in.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	From string `json:"from,omitempty"`
}

// Validate checks the payload against the envelope type carrying it.
func (p *SDPPayload) Validate(envelopeType string) error {
	if p.Type != envelopeType {
		return fmt.Errorf("%w: sdp type %q inside %q message", ErrMalformedPayload, p.Type, envelopeType)
	}
	if p.SDP == "" {
		return fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	return nil
}

// ICECandidatePayload is the data of an ice-candidate message.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	SDPMid        string `json:"sdpMid"`
	From          string `json:"from,omitempty"`
}

// LeaveRoomPayload is the data of a leave-room message. RoomID is advisory;
// the server trusts its own membership map, not the client's claim.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// RegistrationSuccessPayload acknowledges a register-user message.
type RegistrationSuccessPayload struct {
	SocketID string `json:"socketId"`
}

// PartnerInfo is the public view of the matched peer.
type PartnerInfo struct {
	UserID      string      `json:"userId"`
	Preferences Preferences `json:"preferences"`
}

// RoomJoinedPayload is delivered to both participants when a match is made.
type RoomJoinedPayload struct {
	RoomID  string      `json:"roomId"`
	PeerID  string      `json:"peerId"`
	Partner PartnerInfo `json:"partner"`
}

// UserLeftPayload tells the remaining participant who left.
type UserLeftPayload struct {
	From string `json:"from"`
}

// ServerStatsPayload is the data of a server-stats message.
type ServerStatsPayload struct {
	Sessions int `json:"sessions"`
	Waiting  int `json:"waiting"`
	Rooms    int `json:"rooms"`
}

// DecodeData unmarshals the envelope data into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
