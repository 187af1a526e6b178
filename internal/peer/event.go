package peer

import "github.com/pion/webrtc/v4"

type EventKind int

const (
	EventLocalCandidate EventKind = iota + 1
	// EventDataChannel announces the input channel created by the remote side.
	EventDataChannel
	EventDataChannelOpen
	EventDataChannelMessage
	EventDataChannelClose
	EventTrack
	EventConnectionState
)

func (k EventKind) String() string {
	switch k {
	case EventLocalCandidate:
		return "local-candidate"
	case EventDataChannel:
		return "data-channel"
	case EventDataChannelOpen:
		return "data-channel-open"
	case EventDataChannelMessage:
		return "data-channel-message"
	case EventDataChannelClose:
		return "data-channel-close"
	case EventTrack:
		return "track"
	case EventConnectionState:
		return "connection-state"
	default:
		return "unknown"
	}
}

// Event is one pion callback, detached from the goroutine that raised it.
// Only the fields matching Kind are set.
type Event struct {
	Generation uint64
	Kind       EventKind

	Candidate       webrtc.ICECandidateInit
	Channel         *webrtc.DataChannel
	Message         []byte
	Track           *webrtc.TrackRemote
	ConnectionState webrtc.PeerConnectionState
}
