package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/types"
)

type recordingExecutor struct {
	mouse []types.MouseEvent
	keys  []types.KeyEvent
}

func (r *recordingExecutor) Mouse(ev types.MouseEvent) { r.mouse = append(r.mouse, ev) }
func (r *recordingExecutor) Key(ev types.KeyEvent)     { r.keys = append(r.keys, ev) }

func decodeMouse(t *testing.T, b []byte) types.MouseEvent {
	t.Helper()
	var f types.InputFrame
	require.NoError(t, json.Unmarshal(b, &f))
	require.Equal(t, types.InputMouse, f.Type)
	var ev types.MouseEvent
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	return ev
}

func TestEncoder_ScalesToRemoteGeometry(t *testing.T) {
	var enc Encoder
	enc.SetGeometry(types.Geometry{Width: 3840, Height: 2160})

	b, err := enc.MouseButton(960, 540, 0, true, Size{Width: 1920, Height: 1080})
	require.NoError(t, err)

	ev := decodeMouse(t, b)
	assert.Equal(t, types.MouseEvent{X: 1920, Y: 1080, EventType: "left-down"}, ev)
}

func TestEncoder_RoundsToNearest(t *testing.T) {
	var enc Encoder
	enc.SetGeometry(types.Geometry{Width: 1000, Height: 1000})

	b, err := enc.MouseMove(1, 2, Size{Width: 800, Height: 600})
	require.NoError(t, err)

	ev := decodeMouse(t, b)
	assert.Equal(t, 1, ev.X) // 1.25
	assert.Equal(t, 3, ev.Y) // 3.33
	assert.Equal(t, types.MouseMove, ev.EventType)
}

func TestEncoder_RepeatedGeometryYieldsSameRatios(t *testing.T) {
	var enc Encoder
	view := Size{Width: 1280, Height: 720}

	enc.SetGeometry(types.Geometry{Width: 1920, Height: 1080})
	w1, h1, err := enc.Ratios(view)
	require.NoError(t, err)

	enc.SetGeometry(types.Geometry{Width: 1920, Height: 1080})
	w2, h2, err := enc.Ratios(view)
	require.NoError(t, err)

	assert.Equal(t, w1, w2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1.5, w1)
}

func TestEncoder_RatiosFollowViewResize(t *testing.T) {
	var enc Encoder
	enc.SetGeometry(types.Geometry{Width: 1920, Height: 1080})

	w, _, err := enc.Ratios(Size{Width: 960, Height: 540})
	require.NoError(t, err)
	assert.Equal(t, 2.0, w)

	w, _, err = enc.Ratios(Size{Width: 1920, Height: 1080})
	require.NoError(t, err)
	assert.Equal(t, 1.0, w)
}

func TestEncoder_MouseWithoutGeometry(t *testing.T) {
	var enc Encoder
	_, err := enc.MouseMove(10, 10, Size{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrNoGeometry)

	_, err = enc.Wheel(10, 10, 1, Size{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrNoGeometry)
}

func TestEncoder_EmptyView(t *testing.T) {
	var enc Encoder
	enc.SetGeometry(types.Geometry{Width: 100, Height: 100})
	_, err := enc.MouseMove(1, 1, Size{})
	assert.ErrorIs(t, err, ErrEmptyView)
}

func TestButtonStatus(t *testing.T) {
	cases := []struct {
		button int
		down   bool
		want   string
	}{
		{0, true, "left-down"},
		{0, false, "left-up"},
		{1, true, "middle-down"},
		{2, true, "right-down"},
		{2, false, "right-up"},
	}
	for _, tc := range cases {
		got, err := ButtonStatus(tc.button, tc.down)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	for _, button := range []int{-1, 3, 4} {
		got, err := ButtonStatus(button, true)
		assert.ErrorIs(t, err, ErrUnmappedButton)
		assert.Empty(t, got)
	}
}

func TestEncoder_UnmappedButtonFailsClosed(t *testing.T) {
	var enc Encoder
	enc.SetGeometry(types.Geometry{Width: 100, Height: 100})
	b, err := enc.MouseButton(1, 1, 3, true, Size{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrUnmappedButton)
	assert.Nil(t, b)
}

func TestWheelStatus_SignOnly(t *testing.T) {
	for _, d := range []float64{1, 0.01, 120, 9000} {
		got, err := WheelStatus(d)
		require.NoError(t, err)
		assert.Equal(t, types.WheelDown, got)
	}
	for _, d := range []float64{-1, -0.01, -120} {
		got, err := WheelStatus(d)
		require.NoError(t, err)
		assert.Equal(t, types.WheelUp, got)
	}
	_, err := WheelStatus(0)
	assert.ErrorIs(t, err, ErrZeroWheel)
}

func TestEncoder_Key(t *testing.T) {
	var enc Encoder
	b, err := enc.Key("a", true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"key-event","data":{"eventType":"key-down","key":"a"}}`, string(b))

	b, err = enc.Key("Shift", false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"key-event","data":{"eventType":"key-up","key":"Shift"}}`, string(b))
}

func TestGeometry_Decode(t *testing.T) {
	g, err := DecodeGeometry([]byte(`{"width":2560,"height":1440}`))
	require.NoError(t, err)
	assert.Equal(t, types.Geometry{Width: 2560, Height: 1440}, g)

	var decErr *DecodeError
	_, err = DecodeGeometry([]byte(`{"width":0,"height":1440}`))
	assert.ErrorAs(t, err, &decErr)

	_, err = DecodeGeometry([]byte(`not json`))
	assert.ErrorAs(t, err, &decErr)
}

func TestDispatch(t *testing.T) {
	exec := &recordingExecutor{}

	require.NoError(t, Dispatch([]byte(`{"type":"mouse-event","data":{"x":5,"y":6,"eventType":"wheel-up"}}`), exec))
	require.NoError(t, Dispatch([]byte(`{"type":"key-event","data":{"eventType":"key-down","key":"Enter"}}`), exec))

	assert.Equal(t, []types.MouseEvent{{X: 5, Y: 6, EventType: "wheel-up"}}, exec.mouse)
	assert.Equal(t, []types.KeyEvent{{EventType: "key-down", Key: "Enter"}}, exec.keys)
}

func TestDispatch_MalformedIsDecodeError(t *testing.T) {
	exec := &recordingExecutor{}
	var decErr *DecodeError

	for _, raw := range []string{
		`{`,
		`{"type":"touch-event","data":{}}`,
		`{"type":"mouse-event","data":"nope"}`,
	} {
		err := Dispatch([]byte(raw), exec)
		assert.ErrorAs(t, err, &decErr, raw)
	}
	assert.Empty(t, exec.mouse)
	assert.Empty(t, exec.keys)
}
