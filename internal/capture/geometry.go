// Package capture measures and captures the local display.
package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"remotedesk/internal/types"
)

var ErrNoDisplay = errors.New("capture: display not available")

// GeometryFunc reports the physical pixel size of the shared display.
type GeometryFunc func() (types.Geometry, error)

// DisplayGeometry returns a GeometryFunc for one display index.
func DisplayGeometry(display int) GeometryFunc {
	return func() (types.Geometry, error) {
		bounds, err := DisplayBounds(display)
		if err != nil {
			return types.Geometry{}, err
		}
		return types.Geometry{Width: bounds.Dx(), Height: bounds.Dy()}, nil
	}
}

// DisplayBounds returns the desktop rectangle the captured video of a display
// covers. Its Min is the offset to add to display-relative pointer positions.
func DisplayBounds(display int) (image.Rectangle, error) {
	if display < 0 {
		return image.Rectangle{}, fmt.Errorf("%w: index %d", ErrNoDisplay, display)
	}
	bounds, err := displayBounds(display)
	if err != nil {
		return image.Rectangle{}, err
	}
	if bounds.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: index %d has empty bounds", ErrNoDisplay, display)
	}
	return bounds, nil
}

func monitorBounds() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

func unionBounds(rects []image.Rectangle) image.Rectangle {
	var u image.Rectangle
	for _, r := range rects {
		u = u.Union(r)
	}
	return u
}
