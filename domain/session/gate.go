package session

import (
	"sync/atomic"
	"time"
)

// frameGate applies keep-only-latest backpressure in front of the decode
// pipeline. offer is called from the capture subsystem's delivery goroutine.
type frameGate struct {
	paused      *atomic.Bool
	inFlight    atomic.Bool
	closed      atomic.Bool
	minInterval time.Duration
	lastAccept  atomic.Int64
	counters    *frameCounters
	pipeline    *decodePipeline
}

func newFrameGate(paused *atomic.Bool, minInterval time.Duration, counters *frameCounters) *frameGate {
	return &frameGate{paused: paused, minInterval: minInterval, counters: counters}
}

// attach connects the gate to its pipeline; the pipeline clears the
// in-flight flag through idle.
func (g *frameGate) attach(p *decodePipeline) {
	g.pipeline = p
	p.idle = g.idle
}

// offer takes ownership of f. The frame is either handed to the pipeline
// or released before offer returns.
func (g *frameGate) offer(f Frame) {
	if f == nil {
		return
	}
	g.counters.offered.Add(1)
	if g.closed.Load() || g.paused.Load() {
		g.drop(f)
		return
	}
	if g.throttled() {
		g.drop(f)
		return
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		g.drop(f)
		return
	}
	if f.Image() == nil {
		f.Release()
		g.counters.undecodable.Add(1)
		g.idle()
		return
	}
	if g.minInterval > 0 {
		g.lastAccept.Store(time.Now().UnixNano())
	}
	g.pipeline.submit(f)
}

func (g *frameGate) throttled() bool {
	if g.minInterval <= 0 {
		return false
	}
	last := g.lastAccept.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < g.minInterval
}

func (g *frameGate) drop(f Frame) {
	f.Release()
	g.counters.dropped.Add(1)
}

func (g *frameGate) idle() { g.inFlight.Store(false) }

func (g *frameGate) busy() bool { return g.inFlight.Load() }

// close makes every later offer a drop.
func (g *frameGate) close() { g.closed.Store(true) }
