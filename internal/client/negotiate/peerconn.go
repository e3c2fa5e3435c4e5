package negotiate

import (
	"github.com/pion/webrtc/v4"

	"github.com/pairlink/pairlink/internal/config"
)

// PeerConn is the slice of the WebRTC peer connection surface the
// negotiation engine uses. The engine is tested against a fake; production
// wraps pion.
type PeerConn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	CreateDataChannel(label string) (DataChannel, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnDataChannel(f func(DataChannel))
	OnTrack(f func(*webrtc.TrackRemote))
	Close() error
}

// DataChannel is the minimal data channel surface used for the control
// channel.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(f func())
	OnMessage(f func(data []byte))
	Close() error
}

// PeerConnFactory builds a fresh peer connection under the given transport
// policy. Recovery may call it with a relay-only policy after repeated
// failures.
type PeerConnFactory func(policy webrtc.ICETransportPolicy) (PeerConn, error)

// PionFactory builds peer connections from the configured STUN/TURN servers.
func PionFactory(cfg *config.Config) PeerConnFactory {
	return func(policy webrtc.ICETransportPolicy) (PeerConn, error) {
		iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

		turnServers := cfg.GetTURNServers()
		if turnServers != nil {
			username, password := cfg.GetTURNCredentials()
			iceServers = append(iceServers, webrtc.ICEServer{
				URLs:       turnServers,
				Username:   username,
				Credential: password,
			})
		}

		if cfg.ForceRelay && turnServers != nil {
			policy = webrtc.ICETransportPolicyRelay
		}
		if policy == webrtc.ICETransportPolicyRelay && turnServers == nil {
			// Nothing to relay through; a relay-only policy would just stall.
			policy = webrtc.ICETransportPolicyAll
		}

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: policy,
		})
		if err != nil {
			return nil, NewError("create peer connection", err)
		}
		return &pionConn{pc: pc}, nil
	}
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) AddTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(track)
	return err
}

func (c *pionConn) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (c *pionConn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.pc.OnICECandidate(f)
}

func (c *pionConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConn) OnDataChannel(f func(DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&pionChannel{dc: dc})
	})
}

func (c *pionConn) OnTrack(f func(*webrtc.TrackRemote)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(track)
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string          { return c.dc.Label() }
func (c *pionChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c *pionChannel) OnOpen(f func())        { c.dc.OnOpen(f) }
func (c *pionChannel) OnMessage(f func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { f(msg.Data) })
}
func (c *pionChannel) Close() error { return c.dc.Close() }
