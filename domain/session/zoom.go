package session

import (
	"log/slog"
	"math"
	"sync"
)

// identityZoom is reported for every zoom query while no device is bound.
const identityZoom = 1.0

// zoomCoordinator tracks zoom readiness for the bound device and holds at
// most one pending request (last write wins) until the first capability
// snapshot arrives.
type zoomCoordinator struct {
	logger *slog.Logger
	submit func(func()) bool
	notify func(ZoomState)

	mu        sync.Mutex
	active    bool // a session is live (starting or bound)
	gen       uint64
	device    CaptureDevice
	ready     bool
	announced bool
	pending   *float64
}

func newZoomCoordinator(logger *slog.Logger, submit func(func()) bool, notify func(ZoomState)) *zoomCoordinator {
	return &zoomCoordinator{logger: logger, submit: submit, notify: notify}
}

// arm prepares the coordinator for a new session generation.
func (z *zoomCoordinator) arm(gen uint64) {
	z.mu.Lock()
	z.active = true
	z.gen = gen
	z.device = nil
	z.ready = false
	z.announced = false
	z.pending = nil
	z.mu.Unlock()
}

// bind attaches the device opened for gen.
func (z *zoomCoordinator) bind(gen uint64, dev CaptureDevice) {
	z.mu.Lock()
	if z.active && z.gen == gen {
		z.device = dev
	}
	z.mu.Unlock()
}

// reset returns to the unset state: no device, not ready, nothing pending.
func (z *zoomCoordinator) reset() {
	z.mu.Lock()
	z.active = false
	z.device = nil
	z.ready = false
	z.announced = false
	z.pending = nil
	z.mu.Unlock()
}

// setRatio defers target while capabilities are unknown, otherwise submits
// a clamped set to the control thread. NaN and infinite targets are ignored.
func (z *zoomCoordinator) setRatio(target float64) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		if z.logger != nil {
			z.logger.Debug("zoom request ignored", "ratio", target)
		}
		return
	}
	z.mu.Lock()
	if !z.active {
		z.mu.Unlock()
		return
	}
	if !z.ready || z.device == nil {
		z.pending = &target
		z.mu.Unlock()
		return
	}
	gen := z.gen
	z.mu.Unlock()
	z.submit(func() { z.apply(gen, target) })
}

// apply runs on the control thread.
func (z *zoomCoordinator) apply(gen uint64, target float64) {
	z.mu.Lock()
	if !z.active || z.gen != gen || z.device == nil {
		z.mu.Unlock()
		return
	}
	dev := z.device
	zs, ok := dev.ZoomState()
	if !ok {
		// Capability vanished under us: keep the request for the next snapshot.
		z.pending = &target
		z.ready = false
		z.mu.Unlock()
		if z.logger != nil {
			z.logger.Warn("zoom capability lost, request deferred", "ratio", target)
		}
		return
	}
	z.mu.Unlock()
	z.set(dev, zs.Clamp(target))
}

// capabilityChanged runs on the control thread for every snapshot the
// device reports. Only the transition to ready does any work.
func (z *zoomCoordinator) capabilityChanged(gen uint64, zs ZoomState) {
	z.mu.Lock()
	if !z.active || z.gen != gen || z.device == nil || z.ready {
		z.mu.Unlock()
		return
	}
	z.ready = true
	announce := !z.announced
	z.announced = true
	pending := z.pending
	z.pending = nil
	dev := z.device
	z.mu.Unlock()

	if announce {
		if z.logger != nil {
			z.logger.Debug("zoom ready", "min", zs.Min, "max", zs.Max, "current", zs.Current)
		}
		if z.notify != nil {
			z.notify(zs)
		}
	}
	if pending != nil {
		z.set(dev, zs.Clamp(*pending))
	}
}

func (z *zoomCoordinator) set(dev CaptureDevice, ratio float64) {
	if err := dev.SetZoom(ratio); err != nil && z.logger != nil {
		z.logger.Warn("set zoom", "ratio", ratio, "error", err)
	}
}

func (z *zoomCoordinator) snapshot() (ZoomState, bool) {
	z.mu.Lock()
	dev := z.device
	z.mu.Unlock()
	if dev == nil {
		return ZoomState{}, false
	}
	return dev.ZoomState()
}

func (z *zoomCoordinator) ratio() float64 {
	if zs, ok := z.snapshot(); ok {
		return zs.Current
	}
	return identityZoom
}

func (z *zoomCoordinator) minRatio() float64 {
	if zs, ok := z.snapshot(); ok {
		return zs.Min
	}
	return identityZoom
}

func (z *zoomCoordinator) maxRatio() float64 {
	if zs, ok := z.snapshot(); ok {
		return zs.Max
	}
	return identityZoom
}

func (z *zoomCoordinator) isReady() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.ready
}
