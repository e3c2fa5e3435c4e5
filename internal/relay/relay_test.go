package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/protocol"
	"github.com/pairlink/pairlink/internal/room"
)

type recorder struct {
	mu   sync.Mutex
	msgs map[string][]*protocol.Envelope
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]*protocol.Envelope)}
}

func (r *recorder) Deliver(sessionID string, env *protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[sessionID] = append(r.msgs[sessionID], env)
}

func (r *recorder) count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs[sessionID])
}

func newRelay(t *testing.T, policy Policy) (*Relay, *room.Manager, *recorder) {
	t.Helper()
	rooms := room.NewManager(zerolog.Nop())
	rec := newRecorder()
	return New(policy, rooms, rec, zerolog.Nop()), rooms, rec
}

func offerEnv(t *testing.T, sdp string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeOffer, protocol.SDPPayload{Type: "offer", SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestAdmit(t *testing.T) {
	r, _, _ := newRelay(t, Policy{MaxMessageBytes: 100, MessagesPerSecond: 1000, Burst: 1000})

	env := &protocol.Envelope{Type: protocol.TypeFindMatch}
	if err := r.Admit("a", 50, env); err != nil {
		t.Errorf("Admit() error = %v", err)
	}

	if err := r.Admit("a", 101, env); !errors.Is(err, ErrOversizedMessage) {
		t.Errorf("oversize: error = %v, want ErrOversizedMessage", err)
	}

	bad := &protocol.Envelope{Type: "drop-tables"}
	if err := r.Admit("a", 10, bad); !errors.Is(err, protocol.ErrInvalidMessageType) {
		t.Errorf("bad type: error = %v, want ErrInvalidMessageType", err)
	}
}

func TestAdmitRateLimit(t *testing.T) {
	r, _, _ := newRelay(t, Policy{MaxMessageBytes: 1 << 16, MessagesPerSecond: 1, Burst: 3})

	env := &protocol.Envelope{Type: protocol.TypeGetStats}
	for i := 0; i < 3; i++ {
		if err := r.Admit("a", 10, env); err != nil {
			t.Fatalf("Admit() #%d error = %v", i, err)
		}
	}
	if err := r.Admit("a", 10, env); !errors.Is(err, ErrRateLimited) {
		t.Errorf("burst exceeded: error = %v, want ErrRateLimited", err)
	}

	// Limits are per sender.
	if err := r.Admit("b", 10, env); err != nil {
		t.Errorf("Admit(b) error = %v", err)
	}

	// Forget resets the sender's bucket.
	r.Forget("a")
	if err := r.Admit("a", 10, env); err != nil {
		t.Errorf("Admit(a) after Forget: error = %v", err)
	}
}

func TestForwardToPartner(t *testing.T) {
	r, rooms, rec := newRelay(t, DefaultPolicy())
	rooms.Create("a", "b")

	if err := r.Forward("a", offerEnv(t, "v=0\r\n")); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if rec.count("b") != 1 {
		t.Fatalf("partner got %d messages, want 1", rec.count("b"))
	}
	if rec.count("a") != 0 {
		t.Errorf("sender got %d messages, want 0", rec.count("a"))
	}

	var p protocol.SDPPayload
	if err := rec.msgs["b"][0].DecodeData(&p); err != nil {
		t.Fatalf("decode forwarded payload: %v", err)
	}
	if p.From != "a" {
		t.Errorf("forwarded From = %q, want a", p.From)
	}
	if p.SDP != "v=0\r\n" {
		t.Errorf("forwarded SDP mutated: %q", p.SDP)
	}
}

func TestForwardRequiresRoom(t *testing.T) {
	r, _, rec := newRelay(t, DefaultPolicy())

	if err := r.Forward("a", offerEnv(t, "v=0")); !errors.Is(err, ErrNoActiveRoom) {
		t.Errorf("Forward() error = %v, want ErrNoActiveRoom", err)
	}
	if rec.count("a") != 0 || rec.count("b") != 0 {
		t.Error("message was delivered despite missing room")
	}
}

func TestForwardRejectsNonRelayableType(t *testing.T) {
	r, rooms, _ := newRelay(t, DefaultPolicy())
	rooms.Create("a", "b")

	env := &protocol.Envelope{Type: protocol.TypeFindMatch}
	if err := r.Forward("a", env); !errors.Is(err, protocol.ErrInvalidMessageType) {
		t.Errorf("Forward(find-match) error = %v, want ErrInvalidMessageType", err)
	}
}

func TestForwardDropsMalformedSDP(t *testing.T) {
	r, rooms, rec := newRelay(t, DefaultPolicy())
	rooms.Create("a", "b")

	env := &protocol.Envelope{Type: protocol.TypeOffer, Data: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}
	if err := r.Forward("a", env); !errors.Is(err, protocol.ErrMalformedPayload) {
		t.Errorf("mismatched sdp type: error = %v, want ErrMalformedPayload", err)
	}
	if rec.count("b") != 0 {
		t.Error("malformed payload was forwarded")
	}
}

func TestForwardDropsInjectedCandidate(t *testing.T) {
	r, rooms, rec := newRelay(t, DefaultPolicy())
	rooms.Create("a", "b")

	env, err := protocol.NewEnvelope(protocol.TypeICECandidate, protocol.ICECandidatePayload{
		Candidate: "candidate:1 1 udp 1 1.2.3.4 1 typ host <script>evil()</script>",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Forward("a", env); !errors.Is(err, protocol.ErrSuspiciousCandidate) {
		t.Errorf("injected candidate: error = %v, want ErrSuspiciousCandidate", err)
	}
	if rec.count("b") != 0 {
		t.Error("suspicious candidate was forwarded")
	}
}

func TestForwardValidCandidate(t *testing.T) {
	r, rooms, rec := newRelay(t, DefaultPolicy())
	rooms.Create("a", "b")

	env, err := protocol.NewEnvelope(protocol.TypeICECandidate, protocol.ICECandidatePayload{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host",
		SDPMLineIndex: 0,
		SDPMid:        "0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Forward("b", env); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if rec.count("a") != 1 {
		t.Fatalf("partner got %d messages, want 1", rec.count("a"))
	}

	var p protocol.ICECandidatePayload
	if err := rec.msgs["a"][0].DecodeData(&p); err != nil {
		t.Fatal(err)
	}
	if p.From != "b" || p.SDPMid != "0" {
		t.Errorf("forwarded candidate = %+v", p)
	}
}
