//go:build !linux

package capture

import (
	"fmt"
	"image"
	"strconv"

	"github.com/kbinani/screenshot"
)

func screenLabel(display int) string {
	return strconv.Itoa(display)
}

func displayBounds(display int) (image.Rectangle, error) {
	if n := screenshot.NumActiveDisplays(); display >= n {
		return image.Rectangle{}, fmt.Errorf("%w: index %d of %d", ErrNoDisplay, display, n)
	}
	return screenshot.GetDisplayBounds(display), nil
}
