package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"valid find-match", `{"type":"find-match","data":{"preferences":{}}}`, nil},
		{"valid offer", `{"type":"offer","data":{"type":"offer","sdp":"v=0"}}`, nil},
		{"not json", `{{{`, ErrMalformedPayload},
		{"missing type", `{"data":{}}`, ErrMalformedPayload},
		{"unknown type", `{"type":"shutdown-server"}`, ErrInvalidMessageType},
		{"server-only type", `{"type":"room-joined"}`, ErrInvalidMessageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequiresRoom(t *testing.T) {
	for _, typ := range []string{TypeOffer, TypeAnswer, TypeICECandidate} {
		if !RequiresRoom(typ) {
			t.Errorf("RequiresRoom(%q) = false, want true", typ)
		}
	}
	for _, typ := range []string{TypeFindMatch, TypeRegisterUser, TypeGetStats, TypeLeaveRoom} {
		if RequiresRoom(typ) {
			t.Errorf("RequiresRoom(%q) = true, want false", typ)
		}
	}
}

func TestRegisterUserValidate(t *testing.T) {
	p := RegisterUserPayload{}
	if err := p.Validate(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("empty userId: error = %v, want ErrMalformedPayload", err)
	}

	p.UserSession.UserID = strings.Repeat("x", 65)
	if err := p.Validate(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("oversized userId: error = %v, want ErrMalformedPayload", err)
	}

	p.UserSession.UserID = "anon-42"
	if err := p.Validate(); err != nil {
		t.Errorf("valid payload: error = %v", err)
	}
}

func TestSDPPayloadValidate(t *testing.T) {
	p := SDPPayload{Type: "offer", SDP: "v=0\r\n"}
	if err := p.Validate(TypeOffer); err != nil {
		t.Errorf("valid offer: error = %v", err)
	}
	if err := p.Validate(TypeAnswer); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("type mismatch: error = %v, want ErrMalformedPayload", err)
	}

	p = SDPPayload{Type: "answer"}
	if err := p.Validate(TypeAnswer); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("empty sdp: error = %v, want ErrMalformedPayload", err)
	}
}

func TestICECandidateValidate(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		wantOK    bool
	}{
		{"host candidate", "candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host", true},
		{"relay candidate", "candidate:2 1 udp 41885439 198.51.100.1 3478 typ relay raddr 0.0.0.0 rport 0", true},
		{"a= prefixed", "a=candidate:1 1 udp 2130706431 192.0.2.1 54400 typ srflx", true},
		{"end of candidates", "", true},
		{"script injection", "candidate:1 1 udp 1 1.2.3.4 1 typ host <script>alert(1)</script>", false},
		{"javascript url", "candidate:1 1 udp 1 javascript:void(0) 1 typ host", false},
		{"no prefix", "1 1 udp 2130706431 192.0.2.1 54400 typ host", false},
		{"no type marker", "candidate:1 1 udp 2130706431 192.0.2.1 54400", false},
		{"control chars", "candidate:1 1 udp 1 1.2.3.4 1 typ host\x00", false},
		{"oversized", "candidate:" + strings.Repeat("a", 600) + " typ host", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ICECandidatePayload{Candidate: tt.candidate}
			err := p.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if !tt.wantOK && !errors.Is(err, ErrSuspiciousCandidate) {
				t.Errorf("Validate() error = %v, want ErrSuspiciousCandidate", err)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := MustEnvelope(TypeRoomJoined, RoomJoinedPayload{
		RoomID:  "r1",
		PeerID:  "s2",
		Partner: PartnerInfo{UserID: "anon-7", Preferences: Preferences{VideoEnabled: true}},
	})
	if env.Timestamp == 0 {
		t.Error("NewEnvelope did not stamp timestamp")
	}

	var got RoomJoinedPayload
	if err := env.DecodeData(&got); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if got.RoomID != "r1" || got.PeerID != "s2" || got.Partner.UserID != "anon-7" {
		t.Errorf("DecodeData() = %+v", got)
	}
}
