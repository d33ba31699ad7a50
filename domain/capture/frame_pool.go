package capture

import (
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"
)

// framePool recycles the RGBA buffers handed to the session as frames.
// A frame's buffer goes back to the pool when the consumer releases it, so
// the number of live buffers is bounded by the frames in flight rather
// than by the capture rate.
type framePool struct {
	pool        sync.Pool // stores *image.RGBA
	outstanding atomic.Int64
}

// acquire returns a reusable RGBA image sized to rect. Pix length matches
// rect area * 4 and Stride is width*4.
func (p *framePool) acquire(rect image.Rectangle) *image.RGBA {
	w, h := rect.Dx(), rect.Dy()
	if w <= 0 || h <= 0 {
		return &image.RGBA{Rect: rect}
	}
	needed := w * h * 4
	var img *image.RGBA
	if v := p.pool.Get(); v != nil {
		img = v.(*image.RGBA)
	}
	if img == nil || cap(img.Pix) < needed {
		img = &image.RGBA{Pix: make([]byte, needed), Stride: w * 4, Rect: rect}
	} else {
		img.Stride = w * 4
		img.Rect = rect
		img.Pix = img.Pix[:needed]
	}
	return img
}

func (p *framePool) recycle(img *image.RGBA) {
	if img == nil || img.Pix == nil {
		return
	}
	p.pool.Put(img)
}

// frame copies src into a pooled buffer and wraps it in a handle the
// consumer must release exactly once.
func (p *framePool) frame(src image.Image, seq uint64, at time.Time) *frame {
	b := src.Bounds()
	buf := p.acquire(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(buf, buf.Rect, src, b.Min, draw.Src)
	p.outstanding.Add(1)
	return &frame{img: buf, pool: p, Sequence: seq, CapturedAt: at}
}

// Outstanding returns the number of frames handed out and not yet released.
func (p *framePool) Outstanding() int64 { return p.outstanding.Load() }

// frame implements session.Frame. Releasing twice is harmless; Image
// returns nil after release.
type frame struct {
	img        *image.RGBA
	pool       *framePool
	released   atomic.Bool
	Sequence   uint64
	CapturedAt time.Time
}

func (f *frame) Image() image.Image {
	if f.released.Load() {
		return nil
	}
	return f.img
}

func (f *frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	f.pool.outstanding.Add(-1)
	f.pool.recycle(f.img)
}
