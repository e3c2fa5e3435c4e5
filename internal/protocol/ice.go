package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSuspiciousCandidate marks an ICE candidate that failed structural or
// content checks. Callers log these as security events and drop the message.
var ErrSuspiciousCandidate = errors.New("suspicious ice candidate")

const maxCandidateLen = 512

// typeMarkers are the candidate types RFC 8839 allows after "typ".
var typeMarkers = []string{"typ host", "typ srflx", "typ prflx", "typ relay"}

// denyList holds substrings that have no business inside an ICE candidate
// and indicate an injection attempt when present. Matching is
// case-insensitive.
var denyList = []string{
	"<script",
	"</script",
	"javascript:",
	"data:text/html",
	"onerror=",
	"onload=",
}

// Validate performs structural validation of the candidate string. The relay
// never interprets SDP, but a candidate line has a rigid shape we can check
// before forwarding it to the other peer.
func (p *ICECandidatePayload) Validate() error {
	c := p.Candidate
	if c == "" {
		// Trickle-ICE end-of-candidates signal.
		return nil
	}
	if len(c) > maxCandidateLen {
		return fmt.Errorf("%w: candidate exceeds %d bytes", ErrSuspiciousCandidate, maxCandidateLen)
	}
	for _, r := range c {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character in candidate", ErrSuspiciousCandidate)
		}
	}
	lower := strings.ToLower(c)
	for _, bad := range denyList {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("%w: deny-listed content", ErrSuspiciousCandidate)
		}
	}
	if !strings.HasPrefix(c, "candidate:") && !strings.HasPrefix(c, "a=candidate:") {
		return fmt.Errorf("%w: missing candidate prefix", ErrSuspiciousCandidate)
	}
	for _, marker := range typeMarkers {
		if strings.Contains(lower, marker) {
			return nil
		}
	}
	return fmt.Errorf("%w: missing candidate type marker", ErrSuspiciousCandidate)
}

// ScreenSDP applies the deny-list to an SDP body. The payload is otherwise
// forwarded verbatim.
func ScreenSDP(sdp string) error {
	lower := strings.ToLower(sdp)
	for _, bad := range denyList {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("%w: deny-listed content in sdp", ErrSuspiciousCandidate)
		}
	}
	return nil
}
