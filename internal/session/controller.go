// Package session coordinates signaling, the peer session and the input
// codec for one account. All state lives on a single event loop (Run); every
// entry point posts to that loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"remotedesk/internal/capture"
	"remotedesk/internal/codec"
	"remotedesk/internal/peer"
	"remotedesk/internal/types"
)

// inputTimeout bounds how long an input call waits on a busy loop. The
// viewer sends input from its frame callback.
const inputTimeout = 250 * time.Millisecond

var (
	ErrValidation             = errors.New("session: receiver id and key are required")
	ErrAuthenticationMismatch = errors.New("session: remote-control key mismatch")
	ErrBusy                   = errors.New("session: a negotiation is already in progress")
	ErrNotConnected           = errors.New("session: no open input channel")
	ErrStopped                = errors.New("session: controller stopped")
)

// Sender delivers envelopes to the relay. Delivery is fire-and-forget.
type Sender interface {
	Send(env types.Envelope)
}

// PeerFactory creates a peer session bound to one generation.
type PeerFactory func(generation uint64, post func(peer.Event)) (*peer.Session, error)

// ViewSizeFunc reports the current size of the local video surface.
type ViewSizeFunc func() codec.Size

// TrackSink consumes a received video track. It is called on its own
// goroutine; requestKeyframe asks the remote sender for a fresh keyframe.
type TrackSink func(track *webrtc.TrackRemote, requestKeyframe func() error)

type Config struct {
	Account types.Account
	Sender  Sender
	NewPeer PeerFactory

	// Capture and Executor are required to accept remote-control requests.
	Capture  capture.Source
	Geometry capture.GeometryFunc
	Executor codec.Executor

	Logger *slog.Logger
}

// Status is a snapshot of the controller state.
type Status struct {
	State       peer.State
	Role        peer.Role
	Receiver    types.Receiver
	Generation  uint64
	ChannelOpen bool
	Geometry    types.Geometry
	HasGeometry bool
}

type captureResult struct {
	generation uint64
	stream     capture.Stream
	err        error
}

type call struct {
	fn    func() error
	reply chan error
}

type Controller struct {
	account  types.Account
	sender   Sender
	newPeer  PeerFactory
	source   capture.Source
	geometry capture.GeometryFunc
	executor codec.Executor
	logger   *slog.Logger

	box  *mailbox
	done chan struct{}

	hooksMu  sync.Mutex
	viewSize ViewSizeFunc
	onTrack  TrackSink
	onError  func(error)

	// Loop-owned state.
	receiver      types.Receiver
	requested     bool
	session       *peer.Session
	generation    uint64
	cancelCapture context.CancelFunc
	channelOpen   bool
	encoder       codec.Encoder
	runCtx        context.Context
}

func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		account:  cfg.Account,
		sender:   cfg.Sender,
		newPeer:  cfg.NewPeer,
		source:   cfg.Capture,
		geometry: cfg.Geometry,
		executor: cfg.Executor,
		logger:   logger.With("component", "session", "account", cfg.Account.ID),
		box:      newMailbox(),
		done:     make(chan struct{}),
	}
}

// Account returns the local credentials. They never change.
func (c *Controller) Account() types.Account { return c.account }

// SetViewSize installs the local video surface size source.
func (c *Controller) SetViewSize(f ViewSizeFunc) {
	c.hooksMu.Lock()
	c.viewSize = f
	c.hooksMu.Unlock()
}

// OnTrack installs the consumer for received video.
func (c *Controller) OnTrack(sink TrackSink) {
	c.hooksMu.Lock()
	c.onTrack = sink
	c.hooksMu.Unlock()
}

// OnError installs a callback for negotiation and capture failures.
func (c *Controller) OnError(f func(error)) {
	c.hooksMu.Lock()
	c.onError = f
	c.hooksMu.Unlock()
}

func (c *Controller) surface(err error) {
	c.logger.Warn("session error", "err", err)
	c.hooksMu.Lock()
	f := c.onError
	c.hooksMu.Unlock()
	if f != nil {
		f(err)
	}
}

// HandleEnvelope queues an inbound envelope. It is safe to use as a
// signal.Handler.
func (c *Controller) HandleEnvelope(env types.Envelope) {
	c.box.push(env)
}

func (c *Controller) post(ev peer.Event) {
	c.box.push(ev)
}

// Run processes events until ctx is done, then closes any live session.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.teardown(true)
			for _, item := range c.box.drain() {
				switch v := item.(type) {
				case call:
					v.reply <- ErrStopped
				case captureResult:
					if v.stream != nil {
						_ = v.stream.Close()
					}
				}
			}
			return ctx.Err()
		case <-c.box.notify:
			for _, item := range c.box.drain() {
				c.dispatch(item)
			}
		}
	}
}

func (c *Controller) dispatch(item any) {
	switch v := item.(type) {
	case types.Envelope:
		c.handleEnvelope(v)
	case peer.Event:
		c.handlePeerEvent(v)
	case captureResult:
		c.handleCapture(v)
	case call:
		v.reply <- v.fn()
	default:
		c.logger.Error("unknown event", "type", fmt.Sprintf("%T", item))
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	c.box.push(call{fn: fn, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) send(mt types.MessageType, message string) {
	c.sender.Send(types.Envelope{
		MessageType: mt,
		Sender:      c.account.ID,
		Receiver:    c.receiver.ID,
		Message:     message,
	})
}

func (c *Controller) handleEnvelope(env types.Envelope) {
	switch env.MessageType {
	case types.MessageHeart:
	case types.MessageRemoteDesktop:
		c.handleRemoteDesktop(env)
	case types.MessageVideoOffer:
		c.handleOffer(env)
	case types.MessageVideoAnswer:
		c.handleAnswer(env)
	case types.MessageNewICECandidate:
		c.handleCandidate(env)
	case types.MessageCloseRemoteDesktop:
		if env.Sender != c.receiver.ID || c.receiver.ID == "" {
			c.logger.Debug("ignoring close from non-receiver", "sender", env.Sender)
			return
		}
		c.logger.Info("remote closed the session", "receiver", env.Sender)
		c.teardown(false)
		c.requested = false
	default:
		c.logger.Debug("ignoring envelope", "type", env.MessageType, "sender", env.Sender)
	}
}

// handleRemoteDesktop is the authentication gate. A mismatched key leaves no
// trace beyond a debug log: no reply, no session.
func (c *Controller) handleRemoteDesktop(env types.Envelope) {
	if c.account.Key == "" || env.Message != c.account.Key {
		c.logger.Debug("remote-control request rejected", "sender", env.Sender, "err", ErrAuthenticationMismatch)
		return
	}
	if c.session != nil {
		c.logger.Warn("remote-control request rejected", "sender", env.Sender, "err", ErrBusy)
		return
	}
	if c.source == nil || c.executor == nil {
		c.logger.Warn("remote-control request ignored: capture disabled", "sender", env.Sender)
		return
	}

	c.receiver = types.Receiver{ID: env.Sender}
	c.requested = false
	s, err := c.startSession()
	if err != nil {
		c.surface(err)
		return
	}
	if _, err := s.CreateDataChannel(); err != nil {
		c.surface(fmt.Errorf("%w: %v", peer.ErrNegotiation, err))
		c.teardown(true)
		return
	}

	ctx, cancel := context.WithCancel(c.loopContext())
	c.cancelCapture = cancel
	gen := c.generation
	source := c.source
	c.logger.Info("remote-control accepted, acquiring capture", "receiver", env.Sender, "generation", gen)
	go func() {
		stream, err := source.Acquire(ctx)
		c.box.push(captureResult{generation: gen, stream: stream, err: err})
	}()
}

func (c *Controller) handleCapture(res captureResult) {
	if c.session == nil || res.generation != c.session.Generation() {
		if res.stream != nil {
			_ = res.stream.Close()
		}
		c.logger.Debug("discarding stale capture", "generation", res.generation)
		return
	}
	if res.err != nil {
		c.surface(fmt.Errorf("capture: %w", res.err))
		c.teardown(true)
		return
	}

	offer, err := c.session.Offer(res.stream)
	if err != nil {
		if c.session.State() != peer.StateClosed {
			// The session did not take ownership of the stream.
			_ = res.stream.Close()
		}
		c.surface(err)
		c.teardown(true)
		return
	}
	payload, err := peer.EncodeDescription(offer)
	if err != nil {
		c.surface(err)
		c.teardown(true)
		return
	}
	c.send(types.MessageVideoOffer, payload)
	c.logger.Info("offer sent", "receiver", c.receiver.ID)
}

func (c *Controller) handleOffer(env types.Envelope) {
	if c.session != nil {
		c.logger.Warn("offer rejected", "sender", env.Sender, "err", ErrBusy)
		return
	}
	if c.requested && env.Sender != c.receiver.ID {
		c.logger.Warn("offer from unexpected peer dropped", "sender", env.Sender, "requested", c.receiver.ID)
		return
	}
	offer, err := peer.ParseDescription(env.Message, webrtc.SDPTypeOffer)
	if err != nil {
		c.surface(err)
		return
	}

	c.receiver = types.Receiver{ID: env.Sender, Key: c.receiverKeyFor(env.Sender)}
	c.requested = false
	s, err := c.startSession()
	if err != nil {
		c.surface(err)
		return
	}
	answer, err := s.Answer(offer)
	if err != nil {
		c.surface(err)
		c.teardown(false)
		return
	}
	payload, err := peer.EncodeDescription(answer)
	if err != nil {
		c.surface(err)
		c.teardown(false)
		return
	}
	c.send(types.MessageVideoAnswer, payload)
	c.logger.Info("answer sent", "receiver", c.receiver.ID)
}

func (c *Controller) receiverKeyFor(id string) string {
	if c.receiver.ID == id {
		return c.receiver.Key
	}
	return ""
}

func (c *Controller) handleAnswer(env types.Envelope) {
	if c.session == nil || env.Sender != c.receiver.ID {
		c.logger.Debug("ignoring answer", "sender", env.Sender)
		return
	}
	if c.session.State() != peer.StateNegotiating || c.session.Role() != peer.RoleCaller {
		c.logger.Debug("ignoring answer", "sender", env.Sender, "state", c.session.State())
		return
	}
	answer, err := peer.ParseDescription(env.Message, webrtc.SDPTypeAnswer)
	if err != nil {
		c.surface(err)
		c.teardown(true)
		return
	}
	if err := c.session.ApplyAnswer(answer); err != nil {
		if errors.Is(err, peer.ErrInvalidState) {
			c.logger.Debug("ignoring answer", "sender", env.Sender, "err", err)
			return
		}
		c.surface(err)
		c.teardown(true)
	}
}

func (c *Controller) handleCandidate(env types.Envelope) {
	if c.session == nil || env.Sender != c.receiver.ID {
		c.logger.Debug("ignoring candidate", "sender", env.Sender)
		return
	}
	cand, err := peer.ParseCandidate(env.Message)
	if err != nil {
		c.surface(err)
		c.teardown(true)
		return
	}
	if err := c.session.AddCandidate(cand); err != nil {
		if errors.Is(err, peer.ErrInvalidState) {
			c.logger.Debug("ignoring candidate", "err", err)
			return
		}
		c.surface(err)
		c.teardown(true)
	}
}

func (c *Controller) handlePeerEvent(ev peer.Event) {
	if c.session == nil || ev.Generation != c.session.Generation() {
		c.logger.Debug("dropping stale peer event", "kind", ev.Kind, "generation", ev.Generation)
		return
	}
	s := c.session

	switch ev.Kind {
	case peer.EventLocalCandidate:
		payload, err := peer.EncodeCandidate(ev.Candidate)
		if err != nil {
			c.logger.Warn("encode candidate", "err", err)
			return
		}
		c.send(types.MessageNewICECandidate, payload)

	case peer.EventDataChannel:
		s.SetChannel(ev.Channel)

	case peer.EventDataChannelOpen:
		if s.Channel() == nil {
			s.SetChannel(ev.Channel)
		}
		c.channelOpen = true
		if s.MarkConnected() {
			c.logger.Info("connected", "receiver", c.receiver.ID, "role", s.Role())
		}
		if s.Role() == peer.RoleCaller {
			c.sendGeometry(ev.Channel)
		}

	case peer.EventDataChannelMessage:
		c.handleChannelMessage(s, ev.Message)

	case peer.EventDataChannelClose:
		c.logger.Info("input channel closed", "receiver", c.receiver.ID)
		c.teardown(false)

	case peer.EventTrack:
		if s.MarkConnected() {
			c.logger.Info("connected", "receiver", c.receiver.ID, "role", s.Role())
		}
		c.hooksMu.Lock()
		sink := c.onTrack
		c.hooksMu.Unlock()
		if sink != nil {
			track := ev.Track
			go sink(track, func() error { return s.RequestKeyframe(track.SSRC()) })
		}

	case peer.EventConnectionState:
		c.logger.Debug("connection state", "state", ev.ConnectionState)
		switch ev.ConnectionState {
		case webrtc.PeerConnectionStateFailed:
			c.surface(fmt.Errorf("%w: connection failed", peer.ErrNegotiation))
			c.teardown(true)
		case webrtc.PeerConnectionStateClosed:
			c.teardown(false)
		}
	}
}

func (c *Controller) sendGeometry(dc *webrtc.DataChannel) {
	if c.geometry == nil {
		c.logger.Warn("no display geometry source")
		return
	}
	g, err := c.geometry()
	if err != nil {
		c.surface(fmt.Errorf("display geometry: %w", err))
		return
	}
	b, err := codec.EncodeGeometry(g)
	if err != nil {
		c.surface(err)
		return
	}
	if err := dc.SendText(string(b)); err != nil {
		c.logger.Warn("send geometry", "err", err)
		return
	}
	c.logger.Info("geometry sent", "width", g.Width, "height", g.Height)
}

func (c *Controller) handleChannelMessage(s *peer.Session, data []byte) {
	if s.Role() == peer.RoleCallee {
		g, err := codec.DecodeGeometry(data)
		if err != nil {
			c.logger.Warn("dropping channel message", "err", err)
			return
		}
		c.encoder.SetGeometry(g)
		c.logger.Info("remote geometry", "width", g.Width, "height", g.Height)
		return
	}
	if err := codec.Dispatch(data, c.executor); err != nil {
		c.logger.Warn("dropping input event", "err", err)
	}
}

func (c *Controller) startSession() (*peer.Session, error) {
	c.generation++
	s, err := c.newPeer(c.generation, c.post)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", peer.ErrNegotiation, err)
	}
	c.session = s
	c.channelOpen = false
	c.encoder.Reset()
	return s, nil
}

// teardown closes the live session, optionally telling the receiver first.
func (c *Controller) teardown(notify bool) {
	if notify && c.receiver.ID != "" && (c.session != nil || c.requested) {
		c.send(types.MessageCloseRemoteDesktop, c.receiver.Key)
	}
	if c.cancelCapture != nil {
		c.cancelCapture()
		c.cancelCapture = nil
	}
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Debug("peer close", "err", err)
	}
	c.logger.Info("session closed", "receiver", c.receiver.ID, "generation", c.session.Generation())
	c.session = nil
	c.channelOpen = false
	c.encoder.Reset()
}

func (c *Controller) loopContext() context.Context {
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

// RequestControl asks receiver to share its screen. The request carries the
// receiver's key; the remote side answers with an offer if the key matches.
func (c *Controller) RequestControl(ctx context.Context, receiver types.Receiver) error {
	if receiver.ID == "" || receiver.Key == "" {
		return ErrValidation
	}
	if receiver.ID == c.account.ID {
		return fmt.Errorf("%w: cannot control own account", ErrValidation)
	}
	return c.do(ctx, func() error {
		if c.session != nil {
			return ErrBusy
		}
		c.receiver = receiver
		c.requested = true
		c.send(types.MessageRemoteDesktop, receiver.Key)
		c.logger.Info("remote-control requested", "receiver", receiver.ID)
		return nil
	})
}

// Close ends the current session and tells the receiver, whether or not the
// remote side acknowledges.
func (c *Controller) Close(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.teardown(true)
		c.requested = false
		return nil
	})
}

// Status returns a snapshot taken on the loop.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func() error {
		st = Status{
			State:       peer.StateIdle,
			Receiver:    c.receiver,
			Generation:  c.generation,
			ChannelOpen: c.channelOpen,
		}
		if c.session != nil {
			st.State = c.session.State()
			st.Role = c.session.Role()
		}
		st.Geometry, st.HasGeometry = c.encoder.Geometry()
		return nil
	})
	return st, err
}

// MouseButton sends a press or release at view coordinates x, y.
func (c *Controller) MouseButton(x, y float64, button int, down bool) error {
	return c.input(func(view codec.Size) ([]byte, error) {
		return c.encoder.MouseButton(x, y, button, down, view)
	})
}

func (c *Controller) MouseMove(x, y float64) error {
	return c.input(func(view codec.Size) ([]byte, error) {
		return c.encoder.MouseMove(x, y, view)
	})
}

// ContextMenu sends a right-click at view coordinates x, y.
func (c *Controller) ContextMenu(x, y float64) error {
	return c.input(func(view codec.Size) ([]byte, error) {
		return c.encoder.ContextMenu(x, y, view)
	})
}

func (c *Controller) Wheel(x, y, deltaY float64) error {
	return c.input(func(view codec.Size) ([]byte, error) {
		return c.encoder.Wheel(x, y, deltaY, view)
	})
}

// Key sends one key transition.
func (c *Controller) Key(key string, down bool) error {
	return c.input(func(codec.Size) ([]byte, error) {
		return c.encoder.Key(key, down)
	})
}

func (c *Controller) input(build func(view codec.Size) ([]byte, error)) error {
	c.hooksMu.Lock()
	viewSize := c.viewSize
	c.hooksMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), inputTimeout)
	defer cancel()
	return c.do(ctx, func() error {
		// The caller gave up, a late event would land out of order.
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.session == nil || !c.channelOpen || c.session.Role() != peer.RoleCallee {
			return ErrNotConnected
		}
		var view codec.Size
		if viewSize != nil {
			view = viewSize()
		}
		b, err := build(view)
		if err != nil {
			return err
		}
		dc := c.session.Channel()
		if dc == nil {
			return ErrNotConnected
		}
		return dc.SendText(string(b))
	})
}
