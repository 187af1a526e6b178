package viewer

import (
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
)

var keyNames = map[string]string{
	"Space":        " ",
	"Minus":        "-",
	"Equal":        "=",
	"Comma":        ",",
	"Period":       ".",
	"Slash":        "/",
	"Semicolon":    ";",
	"Quote":        "'",
	"BracketLeft":  "[",
	"BracketRight": "]",
	"Backslash":    "\\",
	"Backquote":    "`",
	"ShiftLeft":    "Shift",
	"ShiftRight":   "Shift",
	"ControlLeft":  "Control",
	"ControlRight": "Control",
	"AltLeft":      "Alt",
	"AltRight":     "Alt",
	"MetaLeft":     "Meta",
	"MetaRight":    "Meta",
	"Enter":        "Enter",
	"NumpadEnter":  "Enter",
	"Tab":          "Tab",
	"Backspace":    "Backspace",
	"Delete":       "Delete",
	"Escape":       "Escape",
	"Insert":       "Insert",
	"Home":         "Home",
	"End":          "End",
	"PageUp":       "PageUp",
	"PageDown":     "PageDown",
	"ArrowUp":      "ArrowUp",
	"ArrowDown":    "ArrowDown",
	"ArrowLeft":    "ArrowLeft",
	"ArrowRight":   "ArrowRight",
	"CapsLock":     "CapsLock",
}

// KeyName maps an ebiten key name as returned by ebiten.Key.String ("A",
// "Digit1", "ArrowUp") to the key value the remote side expects. Unknown
// keys map to "".
func KeyName(code string) string {
	switch {
	case len(code) == 1 && code[0] >= 'A' && code[0] <= 'Z':
		return strings.ToLower(code)
	case len(code) == 6 && strings.HasPrefix(code, "Digit"):
		return code[5:]
	case len(code) == 7 && strings.HasPrefix(code, "Numpad") && code[6] >= '0' && code[6] <= '9':
		return code[6:]
	case len(code) >= 2 && len(code) <= 3 && code[0] == 'F' && code[1] >= '1' && code[1] <= '9':
		return code
	}
	return keyNames[code]
}

// ButtonIndex maps an ebiten mouse button to the pointer button number
// used on the wire: 0 left, 1 middle, 2 right.
func ButtonIndex(b ebiten.MouseButton) (int, bool) {
	switch b {
	case ebiten.MouseButtonLeft:
		return 0, true
	case ebiten.MouseButtonMiddle:
		return 1, true
	case ebiten.MouseButtonRight:
		return 2, true
	}
	return 0, false
}

// WheelDelta converts ebiten wheel ticks, positive when scrolling up, into
// a pointer deltaY, positive when scrolling down.
func WheelDelta(dy float64) float64 {
	return -dy * 100
}
