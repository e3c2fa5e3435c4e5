package negotiate

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// MediaProvider hands out the local capture tracks. Track ownership stays
// with the provider: ending a call never releases the camera or microphone,
// only the peer connection that was carrying them.
type MediaProvider interface {
	LocalTracks() ([]webrtc.TrackLocal, error)
}

// NoMedia is a provider with no capture devices; calls negotiate a
// data-channel-only session. Used by the headless client.
type NoMedia struct{}

func (NoMedia) LocalTracks() ([]webrtc.TrackLocal, error) { return nil, nil }

// NetworkStats is the observed link quality fed to the advisor.
type NetworkStats struct {
	RTT            time.Duration
	PacketLoss     float64
	ThroughputKbps int
}

// QualityProfile is the advisor's recommendation for outgoing media.
type QualityProfile struct {
	BitrateKbps int
	FPS         int
	Width       int
	Height      int
}

// QualityAdvisor maps network stats to media parameters. The negotiation
// engine consults it and relays the result to the peer; it never computes
// quality itself.
type QualityAdvisor interface {
	Recommend(NetworkStats) QualityProfile
}

// StaticAdvisor always recommends the same profile.
type StaticAdvisor struct {
	Profile QualityProfile
}

func (a StaticAdvisor) Recommend(NetworkStats) QualityProfile { return a.Profile }

// DefaultProfile is a safe starting point before any stats exist.
var DefaultProfile = QualityProfile{BitrateKbps: 800, FPS: 24, Width: 640, Height: 480}
