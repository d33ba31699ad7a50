package capture

import (
	"fmt"
	"image"

	"github.com/vova616/screenshot"
)

// screenSource captures the desktop, or a region of it. The screen has no
// torch.
type screenSource struct {
	region image.Rectangle // empty means the full screen
	bounds image.Rectangle
}

func openScreen(region image.Rectangle) (*screenSource, error) {
	screen, err := screenshot.ScreenRect()
	if err != nil {
		return nil, fmt.Errorf("capture: screen rect: %w", err)
	}
	s := &screenSource{bounds: screen}
	if !region.Empty() {
		r := region.Intersect(screen)
		if r.Empty() {
			return nil, fmt.Errorf("capture: region out of bounds region=%v screen=%v", region, screen)
		}
		s.region, s.bounds = r, r
	}
	return s, nil
}

func (s *screenSource) Bounds() image.Rectangle { return s.bounds }

func (s *screenSource) Grab(bool) (image.Image, error) {
	var (
		img *image.RGBA
		err error
	)
	if !s.region.Empty() {
		img, err = screenshot.CaptureRect(s.region)
	} else {
		img, err = screenshot.CaptureScreen()
	}
	if err != nil || img == nil {
		return nil, err
	}
	return img, nil
}

func (s *screenSource) HasTorch() bool { return false }
func (s *screenSource) Close() error   { return nil }
