package capture

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// torchBrightness is the brightness boost (percent) applied to replayed
// frames while the virtual torch is on.
const torchBrightness = 25

var replayExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tif", ".tiff"}

// replaySource cycles through a fixed list of images. It carries a virtual
// torch that brightens frames.
type replaySource struct {
	mu     sync.Mutex
	images []image.Image
	next   int
	bounds image.Rectangle
}

// ListImages returns the image files in dir sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(replayExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func openReplay(dir string) (*replaySource, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: replay dir: %w", err)
	}
	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("capture: replay %s: %w", filepath.Base(p), err)
		}
		images = append(images, img)
	}
	return newReplaySource(images)
}

func newReplaySource(images []image.Image) (*replaySource, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	var w, h int
	for _, img := range images {
		b := img.Bounds()
		w, h = max(w, b.Dx()), max(h, b.Dy())
	}
	return &replaySource{images: images, bounds: image.Rect(0, 0, w, h)}, nil
}

func (s *replaySource) Bounds() image.Rectangle { return s.bounds }

func (s *replaySource) Grab(lit bool) (image.Image, error) {
	s.mu.Lock()
	img := s.images[s.next]
	s.next = (s.next + 1) % len(s.images)
	s.mu.Unlock()
	if lit {
		return imaging.AdjustBrightness(img, torchBrightness), nil
	}
	return img, nil
}

func (s *replaySource) HasTorch() bool { return true }
func (s *replaySource) Close() error   { return nil }
