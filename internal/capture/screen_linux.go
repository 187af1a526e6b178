package capture

import (
	"fmt"
	"image"
)

// The X11 driver records the root window of an X screen, which spans every
// monitor attached to it.
func screenLabel(display int) string {
	return fmt.Sprintf("X11Screen%d", display)
}

func displayBounds(display int) (image.Rectangle, error) {
	if display != 0 {
		return image.Rectangle{}, fmt.Errorf("%w: X screen %d, only the default screen can be shared", ErrNoDisplay, display)
	}
	monitors := monitorBounds()
	if len(monitors) == 0 {
		return image.Rectangle{}, fmt.Errorf("%w: no active monitors", ErrNoDisplay)
	}
	return unionBounds(monitors), nil
}
