package viewer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/codec"
	"remotedesk/internal/peer"
	"remotedesk/internal/session"
	"remotedesk/internal/types"
)

func TestKeyName(t *testing.T) {
	cases := map[string]string{
		"A":            "a",
		"Z":            "z",
		"Digit0":       "0",
		"Digit7":       "7",
		"Numpad3":      "3",
		"F1":           "F1",
		"F12":          "F12",
		"Space":        " ",
		"Enter":        "Enter",
		"NumpadEnter":  "Enter",
		"ShiftRight":   "Shift",
		"ControlLeft":  "Control",
		"MetaLeft":     "Meta",
		"ArrowUp":      "ArrowUp",
		"Backslash":    "\\",
		"Backquote":    "`",
		"PrintScreen":  "",
		"NumpadDivide": "",
		"":             "",
	}
	for code, want := range cases {
		assert.Equal(t, want, KeyName(code), "code %q", code)
	}
}

func TestKeyName_EbitenKeys(t *testing.T) {
	assert.Equal(t, "a", KeyName(ebiten.KeyA.String()))
	assert.Equal(t, "5", KeyName(ebiten.KeyDigit5.String()))
	assert.Equal(t, "ArrowLeft", KeyName(ebiten.KeyArrowLeft.String()))
	assert.Equal(t, "Backspace", KeyName(ebiten.KeyBackspace.String()))
}

func TestButtonIndex(t *testing.T) {
	for b, want := range map[ebiten.MouseButton]int{
		ebiten.MouseButtonLeft:   0,
		ebiten.MouseButtonMiddle: 1,
		ebiten.MouseButtonRight:  2,
	} {
		got, ok := ButtonIndex(b)
		require.True(t, ok)
		assert.Equal(t, want, got)

		status, err := codec.ButtonStatus(got, true)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(status, "-down"))
	}
	_, ok := ButtonIndex(ebiten.MouseButton4)
	assert.False(t, ok)
}

func TestWheelDelta(t *testing.T) {
	down, err := codec.WheelStatus(WheelDelta(-1))
	require.NoError(t, err)
	assert.Equal(t, types.WheelDown, down)

	up, err := codec.WheelStatus(WheelDelta(1))
	require.NoError(t, err)
	assert.Equal(t, types.WheelUp, up)
}

func TestFitSize(t *testing.T) {
	cases := []struct {
		src, bound, want image.Point
	}{
		{image.Pt(3840, 2160), image.Pt(1280, 720), image.Pt(1280, 720)},
		{image.Pt(3840, 2160), image.Pt(1280, 1024), image.Pt(1280, 720)},
		{image.Pt(1000, 2000), image.Pt(1280, 720), image.Pt(360, 720)},
		{image.Pt(800, 600), image.Pt(1280, 720), image.Pt(800, 600)},
		{image.Pt(800, 600), image.Pt(0, 0), image.Pt(800, 600)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FitSize(tc.src, tc.bound), "src %v bound %v", tc.src, tc.bound)
	}
}

func TestToRGBA(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 64, 32), image.YCbCrSubsampleRatio420)
	for i := range src.Y {
		src.Y[i] = 255
	}
	for i := range src.Cb {
		src.Cb[i] = 128
		src.Cr[i] = 128
	}

	same := ToRGBA(src, image.Pt(100, 100))
	assert.Equal(t, image.Pt(64, 32), same.Bounds().Size())
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, same.RGBAAt(10, 10))

	small := ToRGBA(src, image.Pt(32, 32))
	assert.Equal(t, image.Pt(32, 16), small.Bounds().Size())
	r, g, b, _ := small.At(5, 5).RGBA()
	assert.Greater(t, r, uint32(0xf000))
	assert.Greater(t, g, uint32(0xf000))
	assert.Greater(t, b, uint32(0xf000))
}

func TestFrameDecoder_CountsUndecodableFrames(t *testing.T) {
	dec := NewFrameDecoder()
	for i := 0; i < 10; i++ {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    96,
				SequenceNumber: uint16(100 + i),
				Timestamp:      uint32(3000 * (i + 1)),
				SSRC:           1,
			},
			// VP8 descriptor with the start bit, then a truncated key frame tag.
			Payload: []byte{0x10, 0xaa, 0xbb, 0xcc},
		}
		assert.Nil(t, dec.Push(pkt))
	}

	stats := dec.Stats()
	assert.Equal(t, 10, stats.Packets)
	assert.Equal(t, 40, stats.Bytes)
	assert.Positive(t, stats.Frames)
	assert.Equal(t, stats.Frames, stats.DecodeErrors)
	assert.Zero(t, stats.KeyFrames)
}

type fakeRemote struct {
	mu        sync.Mutex
	status    session.Status
	err       error
	closes    int
	requested []types.Receiver
}

func (f *fakeRemote) MouseButton(float64, float64, int, bool) error { return nil }
func (f *fakeRemote) MouseMove(float64, float64) error              { return nil }
func (f *fakeRemote) ContextMenu(float64, float64) error            { return nil }
func (f *fakeRemote) Wheel(float64, float64, float64) error         { return nil }
func (f *fakeRemote) Key(string, bool) error                        { return nil }

func (f *fakeRemote) Status(context.Context) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeRemote) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.status = session.Status{State: peer.StateIdle}
	return nil
}

func (f *fakeRemote) RequestControl(_ context.Context, receiver types.Receiver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, receiver)
	return nil
}

func (f *fakeRemote) calls() (int, []types.Receiver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes, append([]types.Receiver(nil), f.requested...)
}

func TestWindow_DisconnectThenReconnect(t *testing.T) {
	host := types.Receiver{ID: "host-1", Key: "654321"}
	remote := &fakeRemote{status: session.Status{State: peer.StateConnected, Role: peer.RoleCaller, Receiver: host}}
	w := New(remote, Options{Connect: host})

	w.connect()
	_, requested := remote.calls()
	assert.Empty(t, requested, "connect while a session is up")

	require.True(t, w.hotkey(DisconnectKey))
	require.Eventually(t, func() bool {
		closes, _ := remote.calls()
		return closes == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.True(t, w.hotkey(ConnectKey))
	require.Eventually(t, func() bool {
		_, requested := remote.calls()
		return len(requested) > 0
	}, 3*time.Second, 10*time.Millisecond)
	_, requested = remote.calls()
	assert.Equal(t, []types.Receiver{host}, requested)
}

func TestWindow_ConnectWithoutReceiver(t *testing.T) {
	remote := &fakeRemote{status: session.Status{State: peer.StateIdle}}
	w := New(remote, Options{})
	w.connect()
	_, requested := remote.calls()
	assert.Empty(t, requested)
}

func TestWindow_HotkeysAreNotForwarded(t *testing.T) {
	w := New(&fakeRemote{}, Options{})
	assert.True(t, isHotkey(DisconnectKey))
	assert.True(t, isHotkey(ConnectKey))
	assert.False(t, isHotkey(ebiten.KeyA))
	assert.False(t, w.hotkey(ebiten.KeyA))
	assert.Contains(t, w.describe(session.Status{}, nil), "[F8] disconnect")
}

func TestWindow_LayoutTracksViewSize(t *testing.T) {
	w := New(&fakeRemote{}, Options{})
	assert.Equal(t, codec.Size{Width: DefaultWidth, Height: DefaultHeight}, w.ViewSize())

	gw, gh := w.Layout(1920, 1080)
	assert.Equal(t, 1920, gw)
	assert.Equal(t, 1080, gh)
	assert.Equal(t, codec.Size{Width: 1920, Height: 1080}, w.ViewSize())
}

func TestWindow_StatusOverlay(t *testing.T) {
	remote := &fakeRemote{status: session.Status{
		State:       peer.StateConnected,
		Role:        peer.RoleCallee,
		Receiver:    types.Receiver{ID: "host-1"},
		Geometry:    types.Geometry{Width: 2560, Height: 1440},
		HasGeometry: true,
	}}
	w := New(remote, Options{Account: types.Account{ID: "me", Key: "123456"}})
	assert.Contains(t, w.describe(session.Status{}, nil), "id me  key 123456")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.pollStatus(ctx)

	current := func() string {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.status
	}
	require.Eventually(t, func() bool {
		return strings.Contains(current(), "connected callee with host-1")
	}, 3*time.Second, 50*time.Millisecond)
	assert.Contains(t, current(), "remote 2560x1440")

	remote.mu.Lock()
	remote.err = errors.New("loop gone")
	remote.mu.Unlock()
	require.Eventually(t, func() bool {
		return strings.Contains(current(), "status unavailable: loop gone")
	}, 3*time.Second, 50*time.Millisecond)
}
