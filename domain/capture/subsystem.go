package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/soocke/qrscan/domain/session"
)

const (
	defaultFrameInterval = 33 * time.Millisecond
	defaultMaxZoom       = 4.0
)

// maxServed is the largest request a source smaller than the request will
// still serve at its native size. Larger requests on such sources are
// refused so the caller can fall back to a lower tier.
var maxServed = session.ResolutionHigh.Size()

// Options configures a Subsystem.
type Options struct {
	FrameInterval time.Duration
	MaxZoom       float64
	// Region restricts screen capture to a rectangle. Empty means the full
	// screen. Ignored by replay.
	Region image.Rectangle
}

func (o *Options) normalize() {
	if o.FrameInterval <= 0 {
		o.FrameInterval = defaultFrameInterval
	}
	if o.MaxZoom < 1 {
		o.MaxZoom = defaultMaxZoom
	}
}

// Subsystem opens Devices over a Source. It implements
// session.CaptureSubsystem.
type Subsystem struct {
	name   string
	open   func() (Source, error)
	logger *slog.Logger
	opts   Options
}

// NewScreenSubsystem captures the desktop.
func NewScreenSubsystem(logger *slog.Logger, opts Options) *Subsystem {
	return newSubsystem("screen", logger, opts, func() (Source, error) { return openScreen(opts.Region) })
}

// NewReplaySubsystem cycles through the images in dir, re-reading the
// directory on every Open.
func NewReplaySubsystem(logger *slog.Logger, dir string, opts Options) *Subsystem {
	return newSubsystem("replay", logger, opts, func() (Source, error) { return openReplay(dir) })
}

// NewImageSubsystem replays images already in memory.
func NewImageSubsystem(logger *slog.Logger, images []image.Image, opts Options) *Subsystem {
	return newSubsystem("images", logger, opts, func() (Source, error) { return newReplaySource(images) })
}

func newSubsystem(name string, logger *slog.Logger, opts Options, open func() (Source, error)) *Subsystem {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts.normalize()
	return &Subsystem{name: name, open: open, logger: logger.With("source", name), opts: opts}
}

func (s *Subsystem) Name() string { return s.name }

// Open returns an unbound Device delivering frames of at most size. The
// facing is recorded but has no effect on desktop or replay sources.
func (s *Subsystem) Open(ctx context.Context, facing session.Facing, size image.Point) (session.CaptureDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := s.OpenDevice(facing, size)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// OpenDevice is Open returning the concrete Device.
func (s *Subsystem) OpenDevice(facing session.Facing, size image.Point) (*Device, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("capture: invalid size %v", size)
	}
	src, err := s.open()
	if err != nil {
		return nil, err
	}
	native := src.Bounds().Size()
	if unsupported(native, size) {
		_ = src.Close()
		return nil, fmt.Errorf("%w: requested %dx%d, native %dx%d", ErrResolutionUnsupported, size.X, size.Y, native.X, native.Y)
	}
	out := fitSize(native, size)
	s.logger.Debug("device open",
		"facing", facing.String(),
		"native", fmt.Sprintf("%dx%d", native.X, native.Y),
		"output", fmt.Sprintf("%dx%d", out.X, out.Y),
		"torch", src.HasTorch(),
	)
	return newDevice(src, s.logger, out, s.opts.FrameInterval, s.opts.MaxZoom), nil
}

// unsupported reports whether size asks for more than native can deliver
// and more than maxServed.
func unsupported(native, size image.Point) bool {
	beyondNative := size.X > native.X || size.Y > native.Y
	beyondServed := size.X*size.Y > maxServed.X*maxServed.Y
	return beyondNative && beyondServed
}
