// Package codec frames input events and the display-geometry handshake that
// travel over the session data channel.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"remotedesk/internal/types"
)

var (
	ErrNoGeometry     = errors.New("codec: remote display geometry not received")
	ErrUnmappedButton = errors.New("codec: unmapped mouse button")
	ErrZeroWheel      = errors.New("codec: wheel event without vertical delta")
	ErrEmptyView      = errors.New("codec: local view has no size")
)

// DecodeError reports a data channel message that could not be decoded.
// It is never fatal to the channel.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: decode %s: %v", e.Reason, e.Err)
	}
	return "codec: decode " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Executor turns decoded events into local OS input.
type Executor interface {
	Mouse(ev types.MouseEvent)
	Key(ev types.KeyEvent)
}

// Size is the on-screen size of the local view of the remote display.
type Size struct {
	Width  int
	Height int
}

func EncodeGeometry(g types.Geometry) ([]byte, error) {
	return json.Marshal(g)
}

func DecodeGeometry(data []byte) (types.Geometry, error) {
	var g types.Geometry
	if err := json.Unmarshal(data, &g); err != nil {
		return types.Geometry{}, &DecodeError{Reason: "geometry", Err: err}
	}
	if g.Width <= 0 || g.Height <= 0 {
		return types.Geometry{}, &DecodeError{Reason: fmt.Sprintf("geometry %dx%d", g.Width, g.Height)}
	}
	return g, nil
}

// ButtonStatus maps a DOM-style button index to its wire status.
func ButtonStatus(button int, down bool) (string, error) {
	status := types.MouseUp
	if down {
		status = types.MouseDown
	}
	switch button {
	case 0:
		return "left-" + status, nil
	case 1:
		return "middle-" + status, nil
	case 2:
		return "right-" + status, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnmappedButton, button)
	}
}

// WheelStatus maps the sign of a vertical wheel delta; magnitude is dropped.
func WheelStatus(deltaY float64) (string, error) {
	switch {
	case deltaY > 0:
		return types.WheelDown, nil
	case deltaY < 0:
		return types.WheelUp, nil
	default:
		return "", ErrZeroWheel
	}
}

// Encoder builds outbound input frames on the controlling side. It is not
// safe for concurrent use; the session event loop owns it.
type Encoder struct {
	geometry    types.Geometry
	hasGeometry bool
}

func (e *Encoder) SetGeometry(g types.Geometry) {
	e.geometry = g
	e.hasGeometry = true
}

func (e *Encoder) Geometry() (types.Geometry, bool) {
	return e.geometry, e.hasGeometry
}

// Reset forgets the cached geometry.
func (e *Encoder) Reset() {
	e.geometry = types.Geometry{}
	e.hasGeometry = false
}

// Ratios are computed per call so a resized view takes effect immediately.
func (e *Encoder) Ratios(view Size) (float64, float64, error) {
	if !e.hasGeometry {
		return 0, 0, ErrNoGeometry
	}
	if view.Width <= 0 || view.Height <= 0 {
		return 0, 0, ErrEmptyView
	}
	return float64(e.geometry.Width) / float64(view.Width),
		float64(e.geometry.Height) / float64(view.Height), nil
}

func (e *Encoder) MouseButton(x, y float64, button int, down bool, view Size) ([]byte, error) {
	status, err := ButtonStatus(button, down)
	if err != nil {
		return nil, err
	}
	return e.mouse(x, y, status, view)
}

func (e *Encoder) MouseMove(x, y float64, view Size) ([]byte, error) {
	return e.mouse(x, y, types.MouseMove, view)
}

func (e *Encoder) ContextMenu(x, y float64, view Size) ([]byte, error) {
	return e.mouse(x, y, types.MouseRightClick, view)
}

func (e *Encoder) Wheel(x, y, deltaY float64, view Size) ([]byte, error) {
	status, err := WheelStatus(deltaY)
	if err != nil {
		return nil, err
	}
	return e.mouse(x, y, status, view)
}

func (e *Encoder) Key(key string, down bool) ([]byte, error) {
	status := types.KeyUp
	if down {
		status = types.KeyDown
	}
	return frame(types.InputKey, types.KeyEvent{EventType: status, Key: key})
}

func (e *Encoder) mouse(x, y float64, status string, view Size) ([]byte, error) {
	wr, hr, err := e.Ratios(view)
	if err != nil {
		return nil, err
	}
	return frame(types.InputMouse, types.MouseEvent{
		X:         int(math.Round(x * wr)),
		Y:         int(math.Round(y * hr)),
		EventType: status,
	})
}

func frame(t types.InputEventType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.InputFrame{Type: t, Data: raw})
}

// Dispatch decodes one input frame and hands its payload to exec unchanged.
func Dispatch(data []byte, exec Executor) error {
	var f types.InputFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return &DecodeError{Reason: "frame", Err: err}
	}
	switch f.Type {
	case types.InputMouse:
		var ev types.MouseEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return &DecodeError{Reason: "mouse event", Err: err}
		}
		exec.Mouse(ev)
	case types.InputKey:
		var ev types.KeyEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return &DecodeError{Reason: "key event", Err: err}
		}
		exec.Key(ev)
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown type %q", f.Type)}
	}
	return nil
}
