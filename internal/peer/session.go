// Package peer owns one WebRTC peer connection and its negotiation state.
//
// A Session never reacts to pion callbacks by itself. Every callback is
// converted into an Event tagged with the session generation and handed to
// the post function; the owner applies it from its own event loop and drops
// events whose generation is no longer live. Session methods are therefore
// called from a single goroutine and need no locking beyond Close.
package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the ordered input/geometry channel.
const DataChannelLabel = "input"

var (
	ErrNegotiation  = errors.New("peer: negotiation failed")
	ErrInvalidState = errors.New("peer: invalid state for operation")
)

type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role records which side of the offer/answer exchange this session took.
type Role int

const (
	RoleNone Role = iota
	// RoleCaller creates the data channel, shares its screen and sends the offer.
	RoleCaller
	// RoleCallee answers an offer and drives the remote screen.
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}

// Media is a set of local tracks that must be released with the session.
type Media interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

type Config struct {
	// API carries the media and setting engines; nil uses webrtc.NewAPI().
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

type Session struct {
	generation uint64
	pc         *webrtc.PeerConnection
	post       func(Event)
	logger     *slog.Logger

	state   State
	role    Role
	pending []webrtc.ICECandidateInit
	channel *webrtc.DataChannel
	media   Media

	closeOnce sync.Once
	closeErr  error
}

// New creates an Idle session. post receives every callback of the
// underlying connection as an Event carrying generation.
func New(cfg Config, generation uint64, post func(Event)) (*Session, error) {
	api := cfg.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &Session{
		generation: generation,
		pc:         pc,
		post:       post,
		logger:     logger.With("component", "peer", "generation", generation),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.emit(Event{Kind: EventLocalCandidate, Candidate: c.ToJSON()})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			s.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			return
		}
		s.watchChannel(dc)
		s.emit(Event{Kind: EventDataChannel, Channel: dc})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.emit(Event{Kind: EventTrack, Track: track})
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.emit(Event{Kind: EventConnectionState, ConnectionState: st})
	})

	return s, nil
}

func (s *Session) emit(ev Event) {
	ev.Generation = s.generation
	s.post(ev)
}

// watchChannel wires channel callbacks before any message can be delivered.
func (s *Session) watchChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		s.emit(Event{Kind: EventDataChannelOpen, Channel: dc})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.emit(Event{Kind: EventDataChannelMessage, Channel: dc, Message: msg.Data})
	})
	dc.OnClose(func() {
		s.emit(Event{Kind: EventDataChannelClose, Channel: dc})
	})
}

// Generation is the id the controller assigned, carried by every Event.
func (s *Session) Generation() uint64 { return s.generation }
func (s *Session) State() State       { return s.state }
func (s *Session) Role() Role         { return s.role }

// Channel returns the input data channel once known.
func (s *Session) Channel() *webrtc.DataChannel { return s.channel }

// SetChannel records a channel announced by the remote side.
func (s *Session) SetChannel(dc *webrtc.DataChannel) { s.channel = dc }

// PendingCandidates reports candidates waiting for a remote description.
func (s *Session) PendingCandidates() int { return len(s.pending) }

// CreateDataChannel opens the ordered input channel on the caller side.
func (s *Session) CreateDataChannel() (*webrtc.DataChannel, error) {
	if s.channel != nil {
		return s.channel, nil
	}
	ordered := true
	dc, err := s.pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	s.channel = dc
	s.watchChannel(dc)
	return dc, nil
}

// Offer takes the caller path: it creates the input channel if needed,
// attaches media, and applies and returns the local offer.
func (s *Session) Offer(media Media) (webrtc.SessionDescription, error) {
	if s.state != StateIdle {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: offer in %s", ErrInvalidState, s.state)
	}
	s.state = StateNegotiating
	s.role = RoleCaller
	s.media = media

	if s.channel == nil {
		if _, err := s.CreateDataChannel(); err != nil {
			return webrtc.SessionDescription{}, s.abort(err)
		}
	}

	if media != nil {
		for _, track := range media.Tracks() {
			sender, err := s.pc.AddTrack(track)
			if err != nil {
				return webrtc.SessionDescription{}, s.abort(fmt.Errorf("add track %s: %w", track.ID(), err))
			}
			go drainRTCP(sender)
		}
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, s.abort(fmt.Errorf("create offer: %w", err))
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, s.abort(fmt.Errorf("set local offer: %w", err))
	}
	return *s.pc.LocalDescription(), nil
}

// Answer takes the callee path for a received offer.
func (s *Session) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if s.state != StateIdle {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: answer in %s", ErrInvalidState, s.state)
	}
	s.state = StateNegotiating
	s.role = RoleCallee

	if err := s.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, s.abort(fmt.Errorf("create answer: %w", err))
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, s.abort(fmt.Errorf("set local answer: %w", err))
	}
	return *s.pc.LocalDescription(), nil
}

// ApplyAnswer completes the caller path.
func (s *Session) ApplyAnswer(answer webrtc.SessionDescription) error {
	if s.state != StateNegotiating || s.role != RoleCaller || s.pc.RemoteDescription() != nil {
		return fmt.Errorf("%w: answer in %s as %s", ErrInvalidState, s.state, s.role)
	}
	return s.setRemote(answer)
}

func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return s.abort(fmt.Errorf("%w: set remote %s: %v", ErrNegotiation, desc.Type, err))
	}
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			return s.abort(fmt.Errorf("%w: add queued candidate: %v", ErrNegotiation, err))
		}
	}
	if len(pending) > 0 {
		s.logger.Debug("applied queued candidates", "count", len(pending))
	}
	return nil
}

// AddCandidate applies a remote candidate, or queues it until a remote
// description exists.
func (s *Session) AddCandidate(c webrtc.ICECandidateInit) error {
	switch s.state {
	case StateNegotiating, StateConnected:
	default:
		return fmt.Errorf("%w: candidate in %s", ErrInvalidState, s.state)
	}
	if s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, c)
		return nil
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		return s.abort(fmt.Errorf("%w: add candidate: %v", ErrNegotiation, err))
	}
	return nil
}

// MarkConnected records a data-channel-open or track-received signal.
func (s *Session) MarkConnected() bool {
	if s.state != StateNegotiating {
		return false
	}
	s.state = StateConnected
	return true
}

// RequestKeyframe asks the sender of ssrc for a fresh keyframe. It is safe
// to call from any goroutine and fails once the session is closed.
func (s *Session) RequestKeyframe(ssrc webrtc.SSRC) error {
	return s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
}

func (s *Session) abort(err error) error {
	s.logger.Warn("negotiation aborted", "err", err)
	_ = s.Close()
	return err
}

// Close releases local media and the peer connection exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state = StateClosed
		if s.media != nil {
			if err := s.media.Close(); err != nil {
				s.logger.Warn("release media", "err", err)
			}
		}
		s.closeErr = s.pc.Close()
		s.logger.Debug("session closed")
	})
	return s.closeErr
}

// drainRTCP keeps RTCP flowing for an outbound track until the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
