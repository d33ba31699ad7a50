package capture

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/soocke/qrscan/domain/session"
)

const captureStatsLogInterval = 5 * time.Second

// Device is a bound capture pipeline over a Source. Frames are scaled to
// the negotiated output size, digitally zoomed and delivered to the
// analysis callback from a single capture goroutine.
type Device struct {
	source   Source
	logger   *slog.Logger
	out      image.Point
	interval time.Duration
	maxZoom  float64
	pool     framePool

	mu      sync.Mutex
	zoom    float64
	known   bool // capability reported at least once
	torch   bool
	onCap   func(session.ZoomState)
	stop    chan struct{}
	done    chan struct{}
	lastAt  time.Time
	lastSeq uint64
	closed  bool

	captures     atomic.Uint64
	skipped      atomic.Uint64
	captureNanos atomic.Uint64
	sequence     atomic.Uint64
}

func newDevice(source Source, logger *slog.Logger, out image.Point, interval time.Duration, maxZoom float64) *Device {
	if maxZoom < 1 {
		maxZoom = 1
	}
	return &Device{source: source, logger: logger, out: out, interval: interval, maxZoom: maxZoom, zoom: 1}
}

// OutputSize is the size of delivered frames.
func (d *Device) OutputSize() image.Point { return d.out }

// BindAnalysis starts the capture goroutine. Each frame is handed to
// onFrame, which takes ownership of it.
func (d *Device) BindAnalysis(onFrame func(session.Frame)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrUnbound
	}
	if d.stop != nil {
		return fmt.Errorf("capture: analysis already bound")
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(onFrame, d.stop, d.done)
	return nil
}

// ObserveCapability registers fn for zoom capability snapshots. The first
// snapshot is reported once the first frame has been captured; a snapshot
// follows every zoom change.
func (d *Device) ObserveCapability(fn func(session.ZoomState)) {
	d.mu.Lock()
	d.onCap = fn
	known := d.known
	zs := d.zoomStateLocked()
	d.mu.Unlock()
	if known && fn != nil {
		fn(zs)
	}
}

func (d *Device) zoomStateLocked() session.ZoomState {
	return session.ZoomState{Min: 1, Max: d.maxZoom, Current: d.zoom}
}

func (d *Device) ZoomState() (session.ZoomState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoomStateLocked(), d.known
}

func (d *Device) SetZoom(ratio float64) error {
	d.mu.Lock()
	if !d.known {
		d.mu.Unlock()
		return fmt.Errorf("capture: zoom capability unknown")
	}
	zs := d.zoomStateLocked()
	d.zoom = zs.Clamp(ratio)
	zs.Current = d.zoom
	cb := d.onCap
	d.mu.Unlock()
	if cb != nil {
		cb(zs)
	}
	return nil
}

func (d *Device) SetTorch(enabled bool) error {
	if !d.source.HasTorch() {
		return fmt.Errorf("capture: no torch")
	}
	d.mu.Lock()
	d.torch = enabled
	d.mu.Unlock()
	return nil
}

func (d *Device) HasTorch() bool { return d.source.HasTorch() }

func (d *Device) TorchEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torch
}

// Unbind stops the capture goroutine, waits for it to exit and closes the
// source. The device cannot be bound again; unbinding twice is a no-op.
func (d *Device) Unbind() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	stop, done := d.stop, d.done
	d.torch = false
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return d.source.Close()
}

// Stats returns capture counters.
func (d *Device) Stats() CaptureStats {
	captures := d.captures.Load()
	total := d.captureNanos.Load()
	var avg time.Duration
	avgMicros := 0.0
	if captures > 0 && total > 0 {
		avg = time.Duration(total / captures)
		avgMicros = float64(avg) / float64(time.Microsecond)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return CaptureStats{
		Captures:         captures,
		Skipped:          d.skipped.Load(),
		AvgCapture:       avg,
		AvgCaptureMicros: avgMicros,
		LastCapture:      d.lastAt,
		Sequence:         d.lastSeq,
		Outstanding:      d.pool.Outstanding(),
		Zoom:             d.zoom,
		Torch:            d.torch,
	}
}

func (d *Device) loop(onFrame func(session.Frame), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	logTicker := time.NewTicker(captureStatsLogInterval)
	defer logTicker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if f := d.captureOnce(); f != nil {
			onFrame(f)
		}
		select {
		case <-logTicker.C:
			d.logStats()
		default:
		}
	}
}

// captureOnce grabs, zooms and scales one frame.
func (d *Device) captureOnce() *frame {
	start := time.Now()
	d.mu.Lock()
	lit, zoom := d.torch, d.zoom
	d.mu.Unlock()

	img, err := d.source.Grab(lit)
	if err != nil || img == nil {
		d.skipped.Add(1)
		if err != nil && d.logger != nil {
			d.logger.Error("capture grab", "error", err)
		}
		return nil
	}
	img = digitalZoom(img, zoom)
	if b := img.Bounds(); b.Dx() != d.out.X || b.Dy() != d.out.Y {
		img = imaging.Resize(img, d.out.X, d.out.Y, imaging.Linear)
	}

	now := time.Now()
	seq := d.sequence.Add(1)
	f := d.pool.frame(img, seq, now)
	d.captureNanos.Add(uint64(time.Since(start).Nanoseconds()))
	d.captures.Add(1)

	d.mu.Lock()
	d.lastAt, d.lastSeq = now, seq
	announce := !d.known
	d.known = true
	zs := d.zoomStateLocked()
	cb := d.onCap
	d.mu.Unlock()
	if announce && cb != nil {
		cb(zs)
	}
	return f
}

func (d *Device) logStats() {
	if d.logger == nil {
		return
	}
	stats := d.Stats()
	d.logger.Debug("capture.stats",
		"captures", stats.Captures,
		"skipped", stats.Skipped,
		"avg_capture", stats.AvgCapture,
		"outstanding", stats.Outstanding,
		"zoom", stats.Zoom,
	)
}

// digitalZoom crops the centre 1/ratio of img. The caller scales the crop
// back to the output size.
func digitalZoom(img image.Image, ratio float64) image.Image {
	if ratio <= 1 {
		return img
	}
	b := img.Bounds()
	w := int(float64(b.Dx()) / ratio)
	h := int(float64(b.Dy()) / ratio)
	if w < 1 || h < 1 {
		return img
	}
	return imaging.CropCenter(img, w, h)
}

// fitSize returns native scaled down (never up) to fit within target,
// keeping the aspect ratio.
func fitSize(native, target image.Point) image.Point {
	if native.X <= target.X && native.Y <= target.Y {
		return native
	}
	sx := float64(target.X) / float64(native.X)
	sy := float64(target.Y) / float64(native.Y)
	s := min(sx, sy)
	out := image.Pt(int(float64(native.X)*s+0.5), int(float64(native.Y)*s+0.5))
	return out.Add(image.Pt(max(0, 1-out.X), max(0, 1-out.Y)))
}
