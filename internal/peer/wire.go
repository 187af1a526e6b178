package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ParseDescription decodes a {"type","sdp"} payload and checks its type.
func ParseDescription(payload string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return desc, fmt.Errorf("%w: decode %s: %v", ErrNegotiation, want, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: got %s description, want %s", ErrNegotiation, desc.Type, want)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: empty %s sdp", ErrNegotiation, want)
	}
	return desc, nil
}

func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	b, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", desc.Type, err)
	}
	return string(b), nil
}

// ParseCandidate decodes a {"candidate","sdpMid","sdpMLineIndex",...} payload.
// An empty candidate string marks the end of gathering and is accepted.
func ParseCandidate(payload string) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, fmt.Errorf("%w: decode candidate: %v", ErrNegotiation, err)
	}
	return c, nil
}

func EncodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode candidate: %w", err)
	}
	return string(b), nil
}
