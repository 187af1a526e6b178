package input

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"remotedesk/internal/types"
)

type fakeDriver struct {
	calls     []string
	toggleErr error
}

func (f *fakeDriver) Move(x, y int) { f.calls = append(f.calls, fmt.Sprintf("move %d,%d", x, y)) }

func (f *fakeDriver) Toggle(button, direction string) error {
	f.calls = append(f.calls, "toggle "+button+" "+direction)
	return f.toggleErr
}

func (f *fakeDriver) Click(button string) { f.calls = append(f.calls, "click "+button) }

func (f *fakeDriver) Scroll(direction string, steps int) {
	f.calls = append(f.calls, fmt.Sprintf("scroll %s %d", direction, steps))
}

func (f *fakeDriver) KeyToggle(key, direction string) error {
	f.calls = append(f.calls, "key "+key+" "+direction)
	return nil
}

func newTestRobotAt(origin image.Point) (*Robot, *fakeDriver) {
	d := &fakeDriver{}
	return NewRobotWithDriver(d, origin, slog.New(slog.NewTextHandler(io.Discard, nil))), d
}

func newTestRobot() (*Robot, *fakeDriver) {
	return newTestRobotAt(image.Point{})
}

func TestRobot_Mouse(t *testing.T) {
	tests := []struct {
		ev   types.MouseEvent
		want []string
	}{
		{types.MouseEvent{X: 10, Y: 20, EventType: "mouse-move"}, []string{"move 10,20"}},
		{types.MouseEvent{X: 1, Y: 2, EventType: "left-down"}, []string{"move 1,2", "toggle left down"}},
		{types.MouseEvent{X: 1, Y: 2, EventType: "middle-up"}, []string{"move 1,2", "toggle middle up"}},
		{types.MouseEvent{X: 5, Y: 5, EventType: "right-click"}, []string{"move 5,5", "click right"}},
		{types.MouseEvent{X: 0, Y: 0, EventType: "wheel-up"}, []string{"move 0,0", "scroll up 3"}},
		{types.MouseEvent{X: 0, Y: 0, EventType: "wheel-down"}, []string{"move 0,0", "scroll down 3"}},
		{types.MouseEvent{X: 0, Y: 0, EventType: "back-down"}, nil},
		{types.MouseEvent{X: 0, Y: 0, EventType: "hover"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.ev.EventType, func(t *testing.T) {
			r, d := newTestRobot()
			r.Mouse(tt.ev)
			assert.Equal(t, tt.want, d.calls)
		})
	}
}

func TestRobot_MouseOffsetByDisplayOrigin(t *testing.T) {
	r, d := newTestRobotAt(image.Pt(1920, -120))
	r.Mouse(types.MouseEvent{X: 10, Y: 20, EventType: "mouse-move"})
	r.Mouse(types.MouseEvent{X: 0, Y: 0, EventType: "left-down"})
	r.Mouse(types.MouseEvent{X: 5, Y: 5, EventType: "wheel-up"})
	assert.Equal(t, []string{
		"move 1930,-100",
		"move 1920,-120", "toggle left down",
		"move 1925,-115", "scroll up 3",
	}, d.calls)
}

func TestRobot_ToggleErrorIsNotFatal(t *testing.T) {
	r, d := newTestRobot()
	d.toggleErr = errors.New("no display")
	r.Mouse(types.MouseEvent{EventType: "left-down"})
	r.Mouse(types.MouseEvent{EventType: "left-up"})
	assert.Len(t, d.calls, 4)
}

func TestRobot_Key(t *testing.T) {
	r, d := newTestRobot()
	r.Key(types.KeyEvent{EventType: "key-down", Key: "Shift"})
	r.Key(types.KeyEvent{EventType: "key-down", Key: "A"})
	r.Key(types.KeyEvent{EventType: "key-up", Key: "A"})
	r.Key(types.KeyEvent{EventType: "key-up", Key: "Shift"})
	r.Key(types.KeyEvent{EventType: "key-down", Key: "Dead"})
	r.Key(types.KeyEvent{EventType: "key-press", Key: "a"})

	assert.Equal(t, []string{
		"key shift down",
		"key a down",
		"key a up",
		"key shift up",
	}, d.calls)
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"a":            "a",
		"Z":            "z",
		" ":            "space",
		"Enter":        "enter",
		"Control":      "ctrl",
		"Meta":         "cmd",
		"Escape":       "esc",
		"ArrowLeft":    "left",
		"PageDown":     "pagedown",
		"F5":           "f5",
		"F12":          "f12",
		"Fn":           "",
		"Unidentified": "",
		"é":            "é",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeKey(in), in)
	}
}

func TestParseButtonStatus(t *testing.T) {
	b, d, ok := ParseButtonStatus("right-up")
	assert.True(t, ok)
	assert.Equal(t, "right", b)
	assert.Equal(t, "up", d)

	for _, s := range []string{"left", "left-", "-down", "left-click", "mouse-move"} {
		_, _, ok := ParseButtonStatus(s)
		assert.False(t, ok, s)
	}
}
