package capture

import (
	"errors"
	"image"
)

var (
	// ErrResolutionUnsupported is returned by Open when the source cannot
	// deliver frames anywhere near the requested size.
	ErrResolutionUnsupported = errors.New("capture: resolution unsupported")
	// ErrNoImages is returned when a replay directory holds no readable image.
	ErrNoImages = errors.New("capture: no images")
	ErrUnbound  = errors.New("capture: device not bound")
)

// Source produces raw frames for a Device. Grab is only called from the
// device's capture goroutine.
type Source interface {
	// Bounds is the native frame size.
	Bounds() image.Rectangle
	// Grab returns the next frame. lit reports whether the torch is on;
	// sources without a torch ignore it.
	Grab(lit bool) (image.Image, error)
	HasTorch() bool
	Close() error
}
