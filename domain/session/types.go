package session

import (
	"context"
	"image"
	"strconv"
	"strings"
)

// State enumerates the lifecycle states of a scan session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// live reports whether the state belongs to a started, not yet stopped session.
func (s State) live() bool {
	return s == StateStarting || s == StateRunning || s == StatePaused
}

// Facing selects which camera the capture subsystem should open.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// ParseFacing accepts "front"/"back" in any case. Anything else is back.
func ParseFacing(s string) Facing {
	if strings.EqualFold(strings.TrimSpace(s), "front") {
		return FacingFront
	}
	return FacingBack
}

// ResolutionTier is a coarse resolution request; Size maps it to pixels.
type ResolutionTier int

const (
	ResolutionLow ResolutionTier = iota
	ResolutionMedium
	ResolutionHigh
	ResolutionUltra
)

func (r ResolutionTier) String() string {
	switch r {
	case ResolutionLow:
		return "low"
	case ResolutionHigh:
		return "high"
	case ResolutionUltra:
		return "ultra"
	default:
		return "medium"
	}
}

// Size returns the target frame dimensions for the tier.
func (r ResolutionTier) Size() image.Point {
	switch r {
	case ResolutionLow:
		return image.Pt(640, 480)
	case ResolutionHigh:
		return image.Pt(1920, 1080)
	case ResolutionUltra:
		return image.Pt(3840, 2160)
	default:
		return image.Pt(1280, 720)
	}
}

// Fallback returns the tier to retry with when a device rejects r.
func (r ResolutionTier) Fallback() (ResolutionTier, bool) {
	if r == ResolutionUltra {
		return ResolutionHigh, true
	}
	return r, false
}

// ParseResolution accepts tier names or the numeric plugin codes 0..3.
// Unknown values map to medium.
func ParseResolution(s string) ResolutionTier {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n >= int(ResolutionLow) && n <= int(ResolutionUltra) {
			return ResolutionTier(n)
		}
		return ResolutionMedium
	}
	switch s {
	case "low":
		return ResolutionLow
	case "high":
		return ResolutionHigh
	case "ultra", "4k":
		return ResolutionUltra
	default:
		return ResolutionMedium
	}
}

// StartConfig describes the device a session should open.
type StartConfig struct {
	Facing     Facing
	Resolution ResolutionTier
}

// ZoomState is a capability snapshot reported by a capture device.
type ZoomState struct {
	Min     float64
	Max     float64
	Current float64
}

// Clamp limits ratio to [Min, Max].
func (z ZoomState) Clamp(ratio float64) float64 {
	if ratio < z.Min {
		return z.Min
	}
	if ratio > z.Max {
		return z.Max
	}
	return ratio
}

// Symbol is one decoded barcode payload.
type Symbol struct {
	Text   string        `json:"text"`
	Format string        `json:"format"`
	Points []image.Point `json:"points,omitempty"`
}

// Frame is a handle to a captured image buffer. Ownership moves from the
// capture subsystem to the session; Release must be called exactly once.
// Image may return nil for frames that carry no decodable image.
type Frame interface {
	Image() image.Image
	Release()
}

// CaptureSubsystem opens capture devices. Open may block and is never
// invoked on the control thread.
type CaptureSubsystem interface {
	Open(ctx context.Context, facing Facing, size image.Point) (CaptureDevice, error)
}

// CaptureDevice is a bound capture pipeline. Query methods (ZoomState,
// HasTorch, TorchEnabled) must be safe for concurrent use; the rest are
// only called from the control thread.
type CaptureDevice interface {
	BindAnalysis(onFrame func(Frame)) error
	ObserveCapability(onChanged func(ZoomState))
	ZoomState() (ZoomState, bool)
	SetZoom(ratio float64) error
	SetTorch(enabled bool) error
	HasTorch() bool
	TorchEnabled() bool
	Unbind() error
}

// Decoder recognises symbols in one image.
type Decoder interface {
	Decode(ctx context.Context, img image.Image) ([]Symbol, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, img image.Image) ([]Symbol, error)

func (f DecoderFunc) Decode(ctx context.Context, img image.Image) ([]Symbol, error) {
	return f(ctx, img)
}

// Callbacks is the result surface handed to the caller. Any field may be nil.
// OnSymbols runs on the decode worker, OnZoomReady on the control thread and
// OnError on whichever context detected the failure.
type Callbacks struct {
	OnSymbols   func([]Symbol)
	OnError     func(error)
	OnZoomReady func(ZoomState)
}

func (c Callbacks) symbols(s []Symbol) {
	if c.OnSymbols != nil {
		c.OnSymbols(s)
	}
}

func (c Callbacks) error(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}

func (c Callbacks) zoomReady(z ZoomState) {
	if c.OnZoomReady != nil {
		c.OnZoomReady(z)
	}
}
