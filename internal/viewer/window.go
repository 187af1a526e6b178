// Package viewer shows the remote screen in a native window and turns local
// mouse and keyboard activity into remote input.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/pion/webrtc/v4"

	"remotedesk/internal/codec"
	"remotedesk/internal/session"
	"remotedesk/internal/types"
)

const (
	DefaultWidth            = 1280
	DefaultHeight           = 720
	DefaultKeyframeInterval = time.Second
	statusInterval          = 500 * time.Millisecond
)

// Remote is the part of the session controller the window drives.
type Remote interface {
	MouseButton(x, y float64, button int, down bool) error
	MouseMove(x, y float64) error
	ContextMenu(x, y float64) error
	Wheel(x, y, deltaY float64) error
	Key(key string, down bool) error
	Status(ctx context.Context) (session.Status, error)
	Close(ctx context.Context) error
	RequestControl(ctx context.Context, receiver types.Receiver) error
}

type Options struct {
	Title   string
	Width   int
	Height  int
	Account types.Account
	// Connect is the receiver ConnectKey asks for control of.
	Connect types.Receiver
	// KeyframeInterval paces key frame requests while a track is shown.
	KeyframeInterval time.Duration
	Logger           *slog.Logger
}

// Window is an ebiten.Game. Update, Draw and Layout run on the ebiten
// goroutine; Sink and the status poller hand data over under mu.
type Window struct {
	remote Remote
	opts   Options
	logger *slog.Logger
	ctx    context.Context

	width  atomic.Int64
	height atomic.Int64

	mu     sync.Mutex
	frame  *image.RGBA
	fresh  bool
	status string
	stats  Stats

	texture          *ebiten.Image
	cursorX, cursorY int
	keys             []ebiten.Key
}

var _ ebiten.Game = (*Window)(nil)

func New(remote Remote, opts Options) *Window {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Title == "" {
		opts.Title = "remotedesk"
	}
	if opts.KeyframeInterval <= 0 {
		opts.KeyframeInterval = DefaultKeyframeInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Window{
		remote:  remote,
		opts:    opts,
		logger:  logger.With("component", "viewer"),
		ctx:     context.Background(),
		cursorX: -1,
		cursorY: -1,
	}
	w.width.Store(int64(opts.Width))
	w.height.Store(int64(opts.Height))
	w.status = w.describe(session.Status{}, nil)
	return w
}

// ViewSize reports the current logical size of the window.
func (w *Window) ViewSize() codec.Size {
	return codec.Size{Width: int(w.width.Load()), Height: int(w.height.Load())}
}

// Run opens the window and blocks until it is closed or ctx is done. It
// must be called from the main goroutine.
func (w *Window) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.ctx = ctx
	go w.pollStatus(ctx)

	ebiten.SetWindowSize(w.opts.Width, w.opts.Height)
	ebiten.SetWindowTitle(w.opts.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	if err := ebiten.RunGame(w); err != nil {
		return fmt.Errorf("run viewer: %w", err)
	}
	return nil
}

func (w *Window) Update() error {
	if w.ctx.Err() != nil {
		return ebiten.Termination
	}

	x, y := ebiten.CursorPosition()
	fx, fy := float64(x), float64(y)
	if x != w.cursorX || y != w.cursorY {
		w.cursorX, w.cursorY = x, y
		w.report("mouse move", w.remote.MouseMove(fx, fy))
	}

	for _, b := range []ebiten.MouseButton{ebiten.MouseButtonLeft, ebiten.MouseButtonMiddle, ebiten.MouseButtonRight} {
		idx, _ := ButtonIndex(b)
		if inpututil.IsMouseButtonJustPressed(b) {
			w.report("mouse down", w.remote.MouseButton(fx, fy, idx, true))
			if b == ebiten.MouseButtonRight {
				w.report("context menu", w.remote.ContextMenu(fx, fy))
			}
		}
		if inpututil.IsMouseButtonJustReleased(b) {
			w.report("mouse up", w.remote.MouseButton(fx, fy, idx, false))
		}
	}

	if _, dy := ebiten.Wheel(); dy != 0 {
		w.report("wheel", w.remote.Wheel(fx, fy, WheelDelta(dy)))
	}

	w.keys = inpututil.AppendJustPressedKeys(w.keys[:0])
	for _, k := range w.keys {
		if w.hotkey(k) {
			continue
		}
		if name := KeyName(k.String()); name != "" {
			w.report("key down", w.remote.Key(name, true))
		}
	}
	w.keys = inpututil.AppendJustReleasedKeys(w.keys[:0])
	for _, k := range w.keys {
		if isHotkey(k) {
			continue
		}
		if name := KeyName(k.String()); name != "" {
			w.report("key up", w.remote.Key(name, false))
		}
	}
	return nil
}

// report drops the errors expected before a session is up.
func (w *Window) report(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, codec.ErrNoGeometry), errors.Is(err, codec.ErrEmptyView):
	case errors.Is(err, session.ErrStopped), errors.Is(err, context.Canceled):
	default:
		w.logger.Warn("send input", "op", op, "err", err)
	}
}

func (w *Window) Draw(screen *ebiten.Image) {
	w.mu.Lock()
	if w.fresh && w.frame != nil {
		size := w.frame.Bounds().Size()
		if w.texture == nil || w.texture.Bounds().Size() != size {
			if w.texture != nil {
				w.texture.Deallocate()
			}
			w.texture = ebiten.NewImage(size.X, size.Y)
		}
		w.texture.WritePixels(w.frame.Pix)
		w.fresh = false
	}
	status := w.status
	w.mu.Unlock()

	if w.texture != nil {
		sb, tb := screen.Bounds(), w.texture.Bounds()
		op := &ebiten.DrawImageOptions{Filter: ebiten.FilterLinear}
		op.GeoM.Scale(float64(sb.Dx())/float64(tb.Dx()), float64(sb.Dy())/float64(tb.Dy()))
		screen.DrawImage(w.texture, op)
	}
	ebitenutil.DebugPrint(screen, status)
}

func (w *Window) Layout(outsideWidth, outsideHeight int) (int, int) {
	w.width.Store(int64(outsideWidth))
	w.height.Store(int64(outsideHeight))
	return outsideWidth, outsideHeight
}

// Sink consumes a received video track until it ends. It matches
// session.TrackSink.
func (w *Window) Sink(track *webrtc.TrackRemote, requestKeyframe func() error) {
	logger := w.logger.With("track", track.ID(), "codec", track.Codec().MimeType)
	logger.Info("track started")

	dec := NewFrameDecoder()
	lastRequest := time.Now()
	if err := requestKeyframe(); err != nil {
		logger.Debug("request keyframe", "err", err)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			stats := dec.Stats()
			logger.Info("track ended", "packets", stats.Packets, "frames", stats.Frames, "keyframes", stats.KeyFrames, "err", err)
			return
		}
		if img := dec.Push(pkt); img != nil {
			view := w.ViewSize()
			rgba := ToRGBA(img, image.Pt(view.Width, view.Height))
			w.mu.Lock()
			w.frame = rgba
			w.fresh = true
			w.mu.Unlock()
		}

		w.mu.Lock()
		w.stats = dec.Stats()
		w.mu.Unlock()

		if time.Since(lastRequest) >= w.opts.KeyframeInterval {
			lastRequest = time.Now()
			if err := requestKeyframe(); err != nil {
				logger.Debug("request keyframe", "err", err)
			}
		}
	}
}

func (w *Window) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := w.remote.Status(ctx)
		text := w.describe(st, err)
		w.mu.Lock()
		w.status = text
		w.mu.Unlock()
	}
}

func (w *Window) describe(st session.Status, err error) string {
	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()

	text := fmt.Sprintf("id %s  key %s  [%s] disconnect", w.opts.Account.ID, w.opts.Account.Key, DisconnectKey)
	if w.opts.Connect.ID != "" {
		text += fmt.Sprintf("  [%s] connect %s", ConnectKey, w.opts.Connect.ID)
	}
	text += "\n"
	if err != nil {
		return text + "status unavailable: " + err.Error()
	}
	text += fmt.Sprintf("%s %s", st.State, st.Role)
	if st.Receiver.ID != "" {
		text += " with " + st.Receiver.ID
	}
	if st.HasGeometry {
		text += fmt.Sprintf("\nremote %dx%d", st.Geometry.Width, st.Geometry.Height)
	}
	if stats.Packets > 0 {
		text += fmt.Sprintf("\nrtp %d pkts %d frames %d key", stats.Packets, stats.Frames, stats.KeyFrames)
	}
	return text
}
