// Package input replays remote input events on the local desktop.
package input

import (
	"image"
	"log/slog"
	"strings"

	"github.com/go-vgo/robotgo"

	"remotedesk/internal/types"
)

// wheelSteps is how far one wheel event scrolls.
const wheelSteps = 3

// Driver is the subset of OS input injection the Robot needs.
type Driver interface {
	Move(x, y int)
	Toggle(button, direction string) error
	Click(button string)
	Scroll(direction string, steps int)
	KeyToggle(key, direction string) error
}

// Robot executes decoded input events through a Driver. Event positions are
// relative to the shared display; origin is where that display sits on the
// desktop.
type Robot struct {
	driver Driver
	origin image.Point
	logger *slog.Logger
}

// NewRobot returns a Robot driving the real desktop through robotgo.
func NewRobot(origin image.Point, logger *slog.Logger) *Robot {
	return NewRobotWithDriver(robotgoDriver{}, origin, logger)
}

func NewRobotWithDriver(d Driver, origin image.Point, logger *slog.Logger) *Robot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Robot{driver: d, origin: origin, logger: logger.With("component", "input")}
}

func (r *Robot) move(ev types.MouseEvent) {
	r.driver.Move(r.origin.X+ev.X, r.origin.Y+ev.Y)
}

func (r *Robot) Mouse(ev types.MouseEvent) {
	switch ev.EventType {
	case types.MouseMove:
		r.move(ev)
	case types.MouseRightClick:
		r.move(ev)
		r.driver.Click("right")
	case types.WheelUp:
		r.move(ev)
		r.driver.Scroll("up", wheelSteps)
	case types.WheelDown:
		r.move(ev)
		r.driver.Scroll("down", wheelSteps)
	default:
		button, direction, ok := ParseButtonStatus(ev.EventType)
		if !ok {
			r.logger.Warn("unknown mouse event", "eventType", ev.EventType)
			return
		}
		r.move(ev)
		if err := r.driver.Toggle(button, direction); err != nil {
			r.logger.Warn("mouse toggle failed", "button", button, "direction", direction, "err", err)
		}
	}
}

func (r *Robot) Key(ev types.KeyEvent) {
	var direction string
	switch ev.EventType {
	case types.KeyDown:
		direction = "down"
	case types.KeyUp:
		direction = "up"
	default:
		r.logger.Warn("unknown key event", "eventType", ev.EventType)
		return
	}
	key := NormalizeKey(ev.Key)
	if key == "" {
		r.logger.Debug("unmapped key", "key", ev.Key)
		return
	}
	if err := r.driver.KeyToggle(key, direction); err != nil {
		r.logger.Warn("key toggle failed", "key", key, "direction", direction, "err", err)
	}
}

// ParseButtonStatus splits "left-down" into ("left", "down").
func ParseButtonStatus(status string) (button, direction string, ok bool) {
	button, direction, found := strings.Cut(status, "-")
	if !found {
		return "", "", false
	}
	switch button {
	case "left", "right", "middle":
	default:
		return "", "", false
	}
	switch direction {
	case types.MouseDown, types.MouseUp:
		return button, direction, true
	}
	return "", "", false
}

// NormalizeKey maps a KeyboardEvent.key style name to a robotgo key name.
// It returns "" for keys that cannot be replayed.
func NormalizeKey(k string) string {
	if len([]rune(k)) == 1 {
		if k == " " {
			return "space"
		}
		return strings.ToLower(k)
	}
	switch lk := strings.ToLower(k); lk {
	case "enter", "tab", "backspace", "delete", "shift", "alt", "home", "end", "insert":
		return lk
	case "control", "ctrl":
		return "ctrl"
	case "option":
		return "alt"
	case "meta", "command", "cmd", "os":
		return "cmd"
	case "escape", "esc":
		return "esc"
	case "space", "spacebar":
		return "space"
	case "arrowup":
		return "up"
	case "arrowdown":
		return "down"
	case "arrowleft":
		return "left"
	case "arrowright":
		return "right"
	case "pageup":
		return "pageup"
	case "pagedown":
		return "pagedown"
	case "capslock":
		return "capslock"
	default:
		if len(lk) >= 2 && len(lk) <= 3 && lk[0] == 'f' && allDigits(lk[1:]) {
			return lk
		}
		return ""
	}
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type robotgoDriver struct{}

func (robotgoDriver) Move(x, y int) { robotgo.Move(x, y) }

func (robotgoDriver) Toggle(button, direction string) error {
	return robotgo.Toggle(button, direction)
}

func (robotgoDriver) Click(button string) { robotgo.Click(button) }

func (robotgoDriver) Scroll(direction string, steps int) { robotgo.ScrollDir(steps, direction) }

func (robotgoDriver) KeyToggle(key, direction string) error {
	return robotgo.KeyToggle(key, direction)
}
