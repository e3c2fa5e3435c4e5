// Package negotiate drives one call's offer/answer/ICE exchange from the
// room-joined event to a connected peer connection, including glare
// avoidance, duplicate suppression, ICE restart and bounded reconnection.
//
// The machine is event driven: inbound signaling, connection-state callbacks
// and timer fires all land on one channel and are processed strictly in
// arrival order by Run.
package negotiate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/client/control"
	"github.com/pairlink/pairlink/internal/protocol"
)

// Phase is the negotiation state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMatched
	PhaseOffering
	PhaseAnswering
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseEnded
)

var phaseNames = map[Phase]string{
	PhaseIdle:         "idle",
	PhaseMatched:      "matched",
	PhaseOffering:     "offering",
	PhaseAnswering:    "answering",
	PhaseConnecting:   "connecting",
	PhaseConnected:    "connected",
	PhaseReconnecting: "reconnecting",
	PhaseEnded:        "ended",
}

func (p Phase) String() string { return phaseNames[p] }

// Role is the side of the offer/answer exchange this client takes.
type Role int

const (
	RoleUndetermined Role = iota
	RoleOfferer
	RoleAnswerer
)

// DecideRole breaks the tie between the two participants: the
// lexicographically smaller session id makes the offer. Both sides compute
// the same outcome independently, so exactly one offers.
func DecideRole(localID, peerID string) Role {
	if localID < peerID {
		return RoleOfferer
	}
	return RoleAnswerer
}

const (
	defaultCheckingTimeout = 12 * time.Second
	defaultRestartWait     = 5 * time.Second
	defaultMaxRetries      = 3
	answerFingerprintLen   = 64
)

// Config wires a Negotiator to its collaborators.
type Config struct {
	// LocalID is this client's server-assigned session id.
	LocalID string

	// Send delivers an envelope to the signaling relay.
	Send func(env *protocol.Envelope)

	// NewPeerConn builds peer connections; recovery may request a
	// relay-only transport policy.
	NewPeerConn PeerConnFactory

	Media   MediaProvider
	Advisor QualityAdvisor

	// CheckingTimeout bounds how long a negotiation may sit unconnected
	// before recovery kicks in. RestartWait bounds an in-place ICE restart.
	CheckingTimeout time.Duration
	RestartWait     time.Duration
	MaxRetries      int

	// Backoff schedules the teardown-and-recreate delays. Defaults to a
	// capped exponential schedule.
	Backoff backoff.BackOff

	Logger zerolog.Logger
}

type timerKind int

const (
	timerChecking timerKind = iota
	timerRestart
	timerBackoff
)

// Events processed by the run loop. Everything that can change machine state
// is one of these.
type event interface{ isEvent() }

type evRoomJoined struct{ roomID, peerID string }
type evOffer struct{ payload protocol.SDPPayload }
type evAnswer struct{ payload protocol.SDPPayload }
type evCandidate struct{ payload protocol.ICECandidatePayload }
type evPeerLeft struct{}
type evEnd struct{}
type evConnState struct{ state webrtc.PeerConnectionState }
type evTimer struct {
	kind timerKind
	seq  int
}
type evDataChannel struct{ dc DataChannel }
type evControlOpen struct{ dc DataChannel }

func (evRoomJoined) isEvent()  {}
func (evOffer) isEvent()       {}
func (evAnswer) isEvent()      {}
func (evCandidate) isEvent()   {}
func (evPeerLeft) isEvent()    {}
func (evEnd) isEvent()         {}
func (evConnState) isEvent()   {}
func (evTimer) isEvent()       {}
func (evDataChannel) isEvent() {}
func (evControlOpen) isEvent() {}

// Negotiator is the per-call state machine. All fields below cfg are owned
// by the run loop goroutine; external goroutines only push events.
type Negotiator struct {
	cfg Config
	log zerolog.Logger

	events   chan event
	done     chan struct{}
	stopOnce sync.Once

	phaseMu sync.Mutex
	phase   Phase

	role    Role
	roomID  string
	peerID  string
	pc      PeerConn
	ctrl    DataChannel
	policy  webrtc.ICETransportPolicy
	retries int
	backoff backoff.BackOff

	offerSent         bool
	answerSent        bool
	remoteDescSet     bool
	pendingCandidates []webrtc.ICECandidateInit
	lastAnswerFP      string

	timerSeq int
	timer    *time.Timer
	termErr  error
}

// New creates a Negotiator in the Idle phase.
func New(cfg Config) *Negotiator {
	if cfg.CheckingTimeout <= 0 {
		cfg.CheckingTimeout = defaultCheckingTimeout
	}
	if cfg.RestartWait <= 0 {
		cfg.RestartWait = defaultRestartWait
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Media == nil {
		cfg.Media = NoMedia{}
	}
	if cfg.Advisor == nil {
		cfg.Advisor = StaticAdvisor{Profile: DefaultProfile}
	}
	bo := cfg.Backoff
	if bo == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxInterval = 5 * time.Second
		eb.MaxElapsedTime = 0
		bo = eb
	}
	return &Negotiator{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "negotiate").Logger(),
		events:  make(chan event, 32),
		done:    make(chan struct{}),
		phase:   PhaseIdle,
		policy:  webrtc.ICETransportPolicyAll,
		backoff: bo,
	}
}

// Phase returns the current phase. Safe from any goroutine.
func (n *Negotiator) Phase() Phase {
	n.phaseMu.Lock()
	defer n.phaseMu.Unlock()
	return n.phase
}

func (n *Negotiator) setPhase(p Phase) {
	n.phaseMu.Lock()
	old := n.phase
	n.phase = p
	n.phaseMu.Unlock()
	if old != p {
		n.log.Debug().Stringer("from", old).Stringer("to", p).Msg("Phase transition")
	}
}

// RoomJoined feeds the match-found event into the machine.
func (n *Negotiator) RoomJoined(roomID, peerID string) {
	n.push(evRoomJoined{roomID: roomID, peerID: peerID})
}

// HandleSignal feeds a relayed offer/answer/ice-candidate envelope into the
// machine. Malformed envelopes are logged and dropped, never fatal.
func (n *Negotiator) HandleSignal(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeOffer, protocol.TypeAnswer:
		var p protocol.SDPPayload
		if err := env.DecodeData(&p); err != nil {
			n.log.Warn().Err(err).Str("type", env.Type).Msg("Dropping malformed signal")
			return
		}
		if err := p.Validate(env.Type); err != nil {
			n.log.Warn().Err(err).Str("type", env.Type).Msg("Dropping invalid signal")
			return
		}
		if env.Type == protocol.TypeOffer {
			n.push(evOffer{payload: p})
		} else {
			n.push(evAnswer{payload: p})
		}

	case protocol.TypeICECandidate:
		var p protocol.ICECandidatePayload
		if err := env.DecodeData(&p); err != nil {
			n.log.Warn().Err(err).Msg("Dropping malformed candidate")
			return
		}
		n.push(evCandidate{payload: p})

	default:
		n.log.Warn().Str("type", env.Type).Msg("Ignoring non-signaling envelope")
	}
}

// PeerLeft feeds the user-left notification into the machine.
func (n *Negotiator) PeerLeft() { n.push(evPeerLeft{}) }

// End feeds an explicit end-call into the machine.
func (n *Negotiator) End() { n.push(evEnd{}) }

func (n *Negotiator) push(ev event) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

// Run processes events until the call ends. It returns nil on a local
// end-call, ErrPeerDisconnected when the peer left, and a wrapped
// ErrConnectionFailed/ErrReconnectExhausted when recovery gave up.
func (n *Negotiator) Run(ctx context.Context) error {
	defer n.teardown()

	for {
		select {
		case <-ctx.Done():
			n.setPhase(PhaseEnded)
			return ctx.Err()

		case ev := <-n.events:
			n.dispatch(ev)
			if n.Phase() == PhaseEnded {
				return n.termErr
			}
		}
	}
}

func (n *Negotiator) dispatch(ev event) {
	switch ev := ev.(type) {
	case evRoomJoined:
		n.onRoomJoined(ev.roomID, ev.peerID)
	case evOffer:
		n.onOffer(ev.payload)
	case evAnswer:
		n.onAnswer(ev.payload)
	case evCandidate:
		n.onCandidate(ev.payload)
	case evConnState:
		n.onConnState(ev.state)
	case evTimer:
		n.onTimer(ev)
	case evDataChannel:
		if ev.dc.Label() == control.ChannelLabel {
			n.adoptControl(ev.dc)
		}
	case evControlOpen:
		n.sendQualityHint(ev.dc)
	case evPeerLeft:
		n.terminate(ErrPeerDisconnected)
	case evEnd:
		n.terminate(nil)
	}
}

// onRoomJoined starts (or, during recovery, restarts) a negotiation. A
// re-entrant room-joined for a live negotiation is ignored.
func (n *Negotiator) onRoomJoined(roomID, peerID string) {
	if n.Phase() != PhaseIdle && n.Phase() != PhaseReconnecting {
		n.log.Warn().Str("room_id", roomID).Msg("Ignoring duplicate room-joined")
		return
	}

	n.roomID = roomID
	n.peerID = peerID
	n.role = DecideRole(n.cfg.LocalID, peerID)
	n.setPhase(PhaseMatched)

	n.log.Info().Str("room_id", roomID).Str("peer_id", peerID).
		Bool("offerer", n.role == RoleOfferer).Msg("Role decided")

	if err := n.startPeerConnection(); err != nil {
		n.log.Error().Err(err).Msg("Failed to create peer connection")
		n.recover()
		return
	}

	if n.role == RoleOfferer {
		if err := n.sendOffer(false); err != nil {
			n.log.Error().Err(err).Msg("Failed to send offer")
			n.recover()
			return
		}
		n.setPhase(PhaseOffering)
	} else {
		n.setPhase(PhaseAnswering)
	}
	n.armTimer(timerChecking, n.cfg.CheckingTimeout)
}

func (n *Negotiator) startPeerConnection() error {
	pc, err := n.cfg.NewPeerConn(n.policy)
	if err != nil {
		return err
	}
	n.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		payload := protocol.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *init.SDPMLineIndex
		}
		env, err := protocol.NewEnvelope(protocol.TypeICECandidate, payload)
		if err != nil {
			return
		}
		n.cfg.Send(env)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.push(evConnState{state: state})
	})

	pc.OnDataChannel(func(dc DataChannel) {
		n.push(evDataChannel{dc: dc})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote) {
		n.log.Debug().Str("kind", track.Kind().String()).Msg("Remote track")
	})

	tracks, err := n.cfg.Media.LocalTracks()
	if err != nil {
		return NewError("local tracks", err)
	}
	for _, track := range tracks {
		if err := pc.AddTrack(track); err != nil {
			return NewError("add track", err)
		}
	}

	if n.role == RoleOfferer {
		dc, err := pc.CreateDataChannel(control.ChannelLabel)
		if err != nil {
			// Best effort; the call works without the control channel.
			n.log.Warn().Err(err).Msg("Control channel unavailable")
		} else {
			n.adoptControl(dc)
		}
	}
	return nil
}

// sendOffer creates and sends the local offer. Guarded: at most one
// non-restart offer per room membership, no matter how often the trigger
// repeats.
func (n *Negotiator) sendOffer(restart bool) error {
	if n.offerSent && !restart {
		n.log.Debug().Msg("Offer already sent, ignoring duplicate trigger")
		return nil
	}

	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := n.pc.CreateOffer(opts)
	if err != nil {
		return NewError("create offer", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return NewError("set local description", err)
	}

	env, err := protocol.NewEnvelope(protocol.TypeOffer, protocol.SDPPayload{Type: "offer", SDP: offer.SDP})
	if err != nil {
		return NewError("marshal offer", err)
	}
	n.cfg.Send(env)
	n.offerSent = true
	return nil
}

// onOffer handles a relayed offer. Glare cannot happen between two correct
// clients (the tie-break is deterministic), so an offer arriving at an
// offerer is dropped. A renegotiation offer on a live connection is an ICE
// restart from the peer and is answered again.
func (n *Negotiator) onOffer(p protocol.SDPPayload) {
	if n.role != RoleAnswerer {
		n.log.Warn().Msg("Offer received while offerer, dropping (glare)")
		return
	}

	if n.pc == nil {
		n.log.Warn().Msg("Offer with no peer connection, dropping")
		return
	}

	renegotiate := n.answerSent && (n.Phase() == PhaseConnecting || n.Phase() == PhaseConnected || n.Phase() == PhaseReconnecting)
	if n.answerSent && !renegotiate {
		n.log.Debug().Msg("Answer already sent, dropping duplicate offer")
		return
	}
	if !n.answerSent && n.Phase() != PhaseAnswering && n.Phase() != PhaseReconnecting {
		n.log.Warn().Stringer("phase", n.Phase()).Msg("Offer out of order, dropping")
		return
	}

	if err := n.acceptOffer(p); err != nil {
		n.log.Error().Err(err).Msg("Failed to answer offer")
		n.recover()
		return
	}
	n.setPhase(PhaseConnecting)
}

func (n *Negotiator) acceptOffer(p protocol.SDPPayload) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return NewError("set remote description", err)
	}
	n.remoteDescSet = true
	n.flushCandidates()

	answer, err := n.pc.CreateAnswer()
	if err != nil {
		return NewError("create answer", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return NewError("set local description", err)
	}

	env, err := protocol.NewEnvelope(protocol.TypeAnswer, protocol.SDPPayload{Type: "answer", SDP: answer.SDP})
	if err != nil {
		return NewError("marshal answer", err)
	}
	n.cfg.Send(env)
	n.answerSent = true
	return nil
}

// onAnswer handles a relayed answer. Retransmitted answers are deduplicated
// by fingerprint so the remote description is set exactly once per offer.
func (n *Negotiator) onAnswer(p protocol.SDPPayload) {
	if n.role != RoleOfferer {
		n.log.Warn().Msg("Answer received while answerer, dropping")
		return
	}
	if !n.offerSent {
		n.log.Warn().Msg("Answer before offer, dropping")
		return
	}

	fp := answerFingerprint(p)
	if fp == n.lastAnswerFP {
		n.log.Debug().Msg("Duplicate answer, dropping")
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		n.log.Error().Err(err).Msg("Failed to apply answer")
		n.recover()
		return
	}
	n.lastAnswerFP = fp
	n.remoteDescSet = true
	n.flushCandidates()

	if n.Phase() == PhaseOffering {
		n.setPhase(PhaseConnecting)
	}
}

func answerFingerprint(p protocol.SDPPayload) string {
	sdp := p.SDP
	if len(sdp) > answerFingerprintLen {
		sdp = sdp[:answerFingerprintLen]
	}
	return p.From + "|" + sdp
}

// onCandidate applies a remote ICE candidate, buffering it until the remote
// description exists.
func (n *Negotiator) onCandidate(p protocol.ICECandidatePayload) {
	if p.Candidate == "" {
		return
	}
	mid := p.SDPMid
	idx := p.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	if n.pc == nil || !n.remoteDescSet {
		n.pendingCandidates = append(n.pendingCandidates, init)
		return
	}
	if err := n.pc.AddICECandidate(init); err != nil {
		n.log.Warn().Err(err).Msg("Failed to add ICE candidate")
	}
}

func (n *Negotiator) flushCandidates() {
	for _, init := range n.pendingCandidates {
		if err := n.pc.AddICECandidate(init); err != nil {
			n.log.Warn().Err(err).Msg("Failed to add buffered ICE candidate")
		}
	}
	n.pendingCandidates = nil
}

func (n *Negotiator) onConnState(state webrtc.PeerConnectionState) {
	n.log.Debug().Str("state", state.String()).Msg("Connection state")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		n.cancelTimer()
		n.retries = 0
		n.backoff.Reset()
		n.setPhase(PhaseConnected)

	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		n.recover()
	}
}

func (n *Negotiator) onTimer(ev evTimer) {
	if ev.seq != n.timerSeq {
		// Cancelled timer that fired before Stop took effect.
		return
	}

	switch ev.kind {
	case timerChecking:
		n.log.Warn().Msg("Negotiation timed out before connecting")
		n.recover()
	case timerRestart:
		n.log.Warn().Msg("ICE restart did not recover, recreating connection")
		n.recreate()
	case timerBackoff:
		n.onRoomJoined(n.roomID, n.peerID)
	}
}

// recover is the failure path. First try an in-place ICE restart; if that
// does not reconnect within RestartWait, tear down and recreate.
func (n *Negotiator) recover() {
	if n.Phase() == PhaseEnded {
		return
	}

	if n.role == RoleOfferer && n.pc != nil && n.Phase() != PhaseReconnecting {
		n.log.Info().Msg("Attempting ICE restart")
		n.lastAnswerFP = ""
		if err := n.sendOffer(true); err != nil {
			n.log.Error().Err(err).Msg("ICE restart failed")
			n.recreate()
			return
		}
		n.setPhase(PhaseReconnecting)
		n.armTimer(timerRestart, n.cfg.RestartWait)
		return
	}

	if n.Phase() != PhaseReconnecting {
		// The answerer waits for the peer's restart offer before giving up
		// on the existing connection.
		n.setPhase(PhaseReconnecting)
		n.armTimer(timerRestart, n.cfg.RestartWait)
		return
	}

	n.recreate()
}

// recreate closes the connection and schedules a fresh negotiation after a
// backoff delay, switching to a relay-only transport after repeated
// failures. Bounded by MaxRetries.
func (n *Negotiator) recreate() {
	n.cancelTimer()
	n.closePeerConnection()

	n.retries++
	if n.retries > n.cfg.MaxRetries {
		n.terminate(fmt.Errorf("%w: %w", ErrConnectionFailed, ErrReconnectExhausted))
		return
	}
	if n.retries >= 2 {
		n.policy = webrtc.ICETransportPolicyRelay
	}

	n.offerSent = false
	n.answerSent = false
	n.remoteDescSet = false
	n.pendingCandidates = nil
	n.lastAnswerFP = ""

	delay := n.backoff.NextBackOff()
	if delay == backoff.Stop {
		n.terminate(fmt.Errorf("%w: %w", ErrConnectionFailed, ErrReconnectExhausted))
		return
	}

	n.log.Info().Int("attempt", n.retries).Dur("delay", delay).Msg("Scheduling reconnect")
	n.setPhase(PhaseReconnecting)
	n.armTimer(timerBackoff, delay)
}

func (n *Negotiator) adoptControl(dc DataChannel) {
	n.ctrl = dc
	dc.OnOpen(func() {
		n.push(evControlOpen{dc: dc})
	})
	dc.OnMessage(func(data []byte) {
		n.handleControl(dc, data)
	})
}

// handleControl reacts to peer control messages. It runs on the data
// channel's callback goroutine and must not touch run-loop state.
func (n *Negotiator) handleControl(dc DataChannel, data []byte) {
	msg, err := control.Parse(data)
	if err != nil {
		n.log.Warn().Err(err).Msg("Dropping malformed control message")
		return
	}

	switch msg.Type {
	case control.TypePing:
		var p control.PingPayload
		if msg.DecodePayload(&p) != nil {
			return
		}
		if reply, err := control.Marshal(control.TypePong, p); err == nil {
			dc.Send(reply)
		}

	case control.TypeQualityHint:
		var hint control.QualityHintPayload
		if msg.DecodePayload(&hint) != nil {
			return
		}
		n.log.Info().Int("bitrate_kbps", hint.BitrateKbps).Int("fps", hint.FPS).
			Msg("Peer quality hint")
	}
}

func (n *Negotiator) sendQualityHint(dc DataChannel) {
	profile := n.cfg.Advisor.Recommend(NetworkStats{})
	data, err := control.Marshal(control.TypeQualityHint, control.QualityHintPayload{
		BitrateKbps: profile.BitrateKbps,
		FPS:         profile.FPS,
		Width:       profile.Width,
		Height:      profile.Height,
	})
	if err != nil {
		return
	}
	if err := dc.Send(data); err != nil {
		n.log.Debug().Err(err).Msg("Failed to send quality hint")
	}
}

func (n *Negotiator) armTimer(kind timerKind, d time.Duration) {
	n.cancelTimer()
	n.timerSeq++
	seq := n.timerSeq
	n.timer = time.AfterFunc(d, func() {
		n.push(evTimer{kind: kind, seq: seq})
	})
}

func (n *Negotiator) cancelTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.timerSeq++
}

// terminate moves the machine to Ended. err becomes Run's return value.
func (n *Negotiator) terminate(err error) {
	n.termErr = err
	n.cancelTimer()
	n.setPhase(PhaseEnded)
}

// closePeerConnection drops the remote connection and every reference to it.
// Local media is deliberately untouched: the capture stream outlives the
// call so the user can search again without reacquiring devices.
func (n *Negotiator) closePeerConnection() {
	if n.ctrl != nil {
		n.ctrl.Close()
		n.ctrl = nil
	}
	if n.pc != nil {
		n.pc.Close()
		n.pc = nil
	}
	n.remoteDescSet = false
}

// teardown runs when Run exits: stop timers, unblock feeders, release the
// connection.
func (n *Negotiator) teardown() {
	n.stopOnce.Do(func() { close(n.done) })
	n.cancelTimer()
	n.closePeerConnection()
}
