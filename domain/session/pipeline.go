package session

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// decodePipeline owns the single decode worker of a session. At most one
// frame is outstanding: the gate only submits while its in-flight flag is
// clear, and the flag is cleared once per frame after the frame is released.
type decodePipeline struct {
	ctx      context.Context
	decoder  Decoder
	logger   *slog.Logger
	counters *frameCounters
	deliver  func(symbols []Symbol, err error)
	idle     func()

	work   chan Frame
	done   chan struct{}
	exited chan struct{}
	// after, when set, is the previous session's exited channel; no decode
	// starts before it closes.
	after <-chan struct{}

	mu     sync.Mutex
	closed bool
}

func newDecodePipeline(ctx context.Context, decoder Decoder, logger *slog.Logger, counters *frameCounters, deliver func([]Symbol, error)) *decodePipeline {
	return &decodePipeline{
		ctx:      ctx,
		decoder:  decoder,
		logger:   logger,
		counters: counters,
		deliver:  deliver,
		idle:     func() {},
		work:     make(chan Frame, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (p *decodePipeline) start() { go p.run() }

func (p *decodePipeline) submit(f Frame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.Release()
		p.counters.dropped.Add(1)
		p.idle()
		return
	}
	p.work <- f
	p.mu.Unlock()
}

// close releases the worker. A decode already running completes; its
// result is discarded by the session's generation check.
func (p *decodePipeline) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
}

func (p *decodePipeline) run() {
	defer close(p.exited)
	if p.after != nil {
		select {
		case <-p.after:
		case <-p.done:
			p.drain()
			return
		}
	}
	logTicker := time.NewTicker(scanStatsLogInterval)
	defer logTicker.Stop()
	for {
		select {
		case f := <-p.work:
			p.process(f)
		case <-p.done:
			p.drain()
			return
		}
		select {
		case <-logTicker.C:
			p.logStats()
		default:
		}
	}
}

func (p *decodePipeline) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case f := <-p.work:
		f.Release()
		p.counters.dropped.Add(1)
		p.idle()
	default:
	}
}

// process is the single completion path for a submitted frame.
func (p *decodePipeline) process(f Frame) {
	start := time.Now()
	symbols, err := p.decode(f.Image())
	elapsed := time.Since(start)
	f.Release()
	p.counters.decodeNanos.Add(uint64(elapsed.Nanoseconds()))
	if err != nil {
		p.counters.failed.Add(1)
	} else {
		p.counters.decoded.Add(1)
		p.counters.symbols.Add(uint64(len(symbols)))
	}
	p.idle()
	p.deliver(symbols, err)
}

func (p *decodePipeline) decode(img image.Image) (symbols []Symbol, err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Error("decoder panic", "error", r, "stack", string(debug.Stack()))
			}
			symbols, err = nil, fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return p.decoder.Decode(p.ctx, img)
}

func (p *decodePipeline) logStats() {
	if p.logger == nil {
		return
	}
	var s Stats
	p.counters.fill(&s)
	p.logger.Debug("scan.stats",
		"offered", s.FramesOffered,
		"dropped", s.FramesDropped,
		"decoded", s.Decoded,
		"errors", s.DecodeErrors,
		"avg_decode", s.AvgDecode,
	)
}
