package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures a Controller. The zero value is usable.
type Options struct {
	Logger    *slog.Logger
	Callbacks Callbacks
	// DecodeInterval is the minimum time between two frames accepted for
	// decoding. Zero disables throttling.
	DecodeInterval time.Duration
}

// binding is the capture pipeline bound for one session generation.
type binding struct {
	gen      uint64
	id       string
	device   CaptureDevice
	gate     *frameGate
	pipeline *decodePipeline
}

// Controller owns a scan session: it binds the capture device, routes
// frames through the gate to the decode worker and serializes every device
// operation onto a single control goroutine. All methods are safe to call
// from any goroutine at any time and none of them block on the device.
type Controller struct {
	subsystem      CaptureSubsystem
	decoder        Decoder
	logger         *slog.Logger
	callbacks      Callbacks
	decodeInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	loop   *controlLoop
	zoom   *zoomCoordinator
	torch  *torchController
	paused atomic.Bool

	// lastPipeline is touched only on the control thread.
	lastPipeline *decodePipeline

	mu       sync.Mutex
	state    State
	gen      uint64
	id       string
	live     *binding
	counters *frameCounters
	uptime   uptime
	closed   bool

	closeOnce sync.Once
}

// NewController returns an idle controller.
func NewController(subsystem CaptureSubsystem, decoder Decoder, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		subsystem:      subsystem,
		decoder:        decoder,
		logger:         logger,
		callbacks:      opts.Callbacks,
		decodeInterval: opts.DecodeInterval,
		ctx:            ctx,
		cancel:         cancel,
		counters:       &frameCounters{},
	}
	c.loop = newControlLoop(logger)
	c.zoom = newZoomCoordinator(logger, c.loop.submit, c.callbacks.zoomReady)
	c.torch = newTorchController(logger, c.loop.submit)
	return c
}

// Start opens a device matching cfg and binds it asynchronously. A live
// session is unbound first.
func (c *Controller) Start(cfg StartConfig) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.live
	c.live = nil
	if prev != nil {
		c.uptime.mark(false, time.Now())
	}
	c.gen++
	gen := c.gen
	c.id = uuid.NewString()
	id := c.id
	c.state = StateStarting
	c.counters = &frameCounters{}
	c.paused.Store(false)
	c.zoom.arm(gen)
	c.torch.reset()
	c.mu.Unlock()

	if prev != nil {
		c.teardown(prev)
	}
	c.logger.Info("session starting", "session", id, "facing", cfg.Facing.String(), "resolution", cfg.Resolution.String())
	c.loop.submit(func() { c.open(gen, id, cfg) })
}

// open runs on the control thread. The device open itself may block, so it
// runs on its own goroutine and its completion is queued back.
func (c *Controller) open(gen uint64, id string, cfg StartConfig) {
	if !c.current(gen) {
		return
	}
	go func() {
		dev, err := c.subsystem.Open(c.ctx, cfg.Facing, cfg.Resolution.Size())
		if err != nil {
			if fallback, ok := cfg.Resolution.Fallback(); ok {
				c.logger.Warn("resolution unavailable, falling back", "session", id, "from", cfg.Resolution.String(), "to", fallback.String(), "error", err)
				dev, err = c.subsystem.Open(c.ctx, cfg.Facing, fallback.Size())
			}
		}
		if !c.loop.submit(func() { c.completeBind(gen, id, dev, err) }) && dev != nil {
			c.unbind(id, dev)
		}
	}()
}

// completeBind runs on the control thread once the open attempt finished.
func (c *Controller) completeBind(gen uint64, id string, dev CaptureDevice, err error) {
	if err != nil {
		c.bindFailed(gen, id, err)
		return
	}
	if !c.current(gen) {
		c.logger.Info("bind completed after stop, unbinding", "session", id)
		c.unbind(id, dev)
		return
	}

	c.mu.Lock()
	counters := c.counters
	c.mu.Unlock()

	b := &binding{gen: gen, id: id, device: dev}
	b.gate = newFrameGate(&c.paused, c.decodeInterval, counters)
	b.pipeline = newDecodePipeline(c.ctx, c.decoder, c.logger.With("session", id), counters, func(symbols []Symbol, err error) {
		c.deliver(gen, symbols, err)
	})
	if c.lastPipeline != nil {
		b.pipeline.after = c.lastPipeline.exited
	}
	c.lastPipeline = b.pipeline
	b.gate.attach(b.pipeline)
	b.pipeline.start()

	if err := dev.BindAnalysis(b.gate.offer); err != nil {
		b.gate.close()
		b.pipeline.close()
		c.unbind(id, dev)
		c.bindFailed(gen, id, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen || !c.state.live() {
		c.mu.Unlock()
		b.gate.close()
		b.pipeline.close()
		c.logger.Info("session stopped during bind, unbinding", "session", id)
		c.unbind(id, dev)
		return
	}
	c.live = b
	if c.paused.Load() {
		c.state = StatePaused
	} else {
		c.state = StateRunning
	}
	state := c.state
	c.uptime.mark(true, time.Now())
	c.zoom.bind(gen, dev)
	c.torch.bind(gen, dev)
	c.mu.Unlock()

	dev.ObserveCapability(func(zs ZoomState) {
		c.loop.submit(func() { c.zoom.capabilityChanged(gen, zs) })
	})
	c.logger.Info("session bound", "session", id, "state", state.String())
}

func (c *Controller) bindFailed(gen uint64, id string, err error) {
	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.state = StateIdle
		c.zoom.reset()
		c.torch.reset()
	}
	c.mu.Unlock()
	if stale {
		c.logger.Debug("stale bind failure ignored", "session", id, "error", err)
		return
	}
	c.logger.Error("session bind", "session", id, "error", err)
	c.callbacks.error(fmt.Errorf("%w: %w", ErrBindFailed, err))
}

// deliver runs on the decode worker.
func (c *Controller) deliver(gen uint64, symbols []Symbol, err error) {
	if !c.current(gen) {
		return
	}
	if err != nil {
		c.logger.Debug("decode", "error", err)
		c.callbacks.error(fmt.Errorf("%w: %w", ErrDecodeFailed, err))
		return
	}
	c.callbacks.symbols(symbols)
}

// Pause stops submitting frames for decoding. The device stays bound.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.live() {
		return
	}
	c.paused.Store(true)
	if c.state == StateRunning {
		c.state = StatePaused
	}
}

// Resume clears the paused flag. It never triggers a bind.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.live() {
		return
	}
	c.paused.Store(false)
	if c.state == StatePaused {
		c.state = StateRunning
	}
}

// Stop ends the session. The state is Stopped when Stop returns; the device
// unbind runs on the control thread. In-flight decodes and binds complete
// and are discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	prev := c.live
	c.live = nil
	wasLive := c.state.live()
	c.state = StateStopped
	c.paused.Store(true)
	c.zoom.reset()
	c.torch.reset()
	c.uptime.mark(false, time.Now())
	id := c.id
	c.mu.Unlock()

	if prev != nil {
		c.teardown(prev)
	}
	if wasLive {
		c.logger.Info("session stopped", "session", id)
	}
}

func (c *Controller) teardown(b *binding) {
	b.gate.close()
	b.pipeline.close()
	if !c.loop.submit(func() { c.unbind(b.id, b.device) }) {
		c.unbind(b.id, b.device)
	}
}

func (c *Controller) unbind(id string, dev CaptureDevice) {
	if err := dev.Unbind(); err != nil {
		c.logger.Warn("unbind", "session", id, "error", err)
	}
}

// Close stops the session and shuts down the control goroutine after the
// queued operations ran. The controller cannot be restarted.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.Stop()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.loop.close()
		c.cancel()
	})
}

// Sync blocks until every control operation submitted before the call has
// executed on the control thread.
func (c *Controller) Sync(ctx context.Context) error {
	return c.loop.sync(ctx)
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state.live()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current or last session, empty before
// the first Start.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Stats returns frame and decode counters for the current or last session.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	s := Stats{State: c.state, SessionID: c.id}
	counters := c.counters
	s.Session, s.Total = c.uptime.values(time.Now())
	c.mu.Unlock()
	counters.fill(&s)
	return s
}

func (c *Controller) SetZoomRatio(ratio float64) { c.zoom.setRatio(ratio) }
func (c *Controller) ZoomRatio() float64         { return c.zoom.ratio() }
func (c *Controller) MinZoomRatio() float64      { return c.zoom.minRatio() }
func (c *Controller) MaxZoomRatio() float64      { return c.zoom.maxRatio() }
func (c *Controller) ZoomReady() bool            { return c.zoom.isReady() }
func (c *Controller) EnableTorch(enabled bool)   { c.torch.enable(enabled) }
func (c *Controller) ToggleTorch()               { c.torch.toggle() }
func (c *Controller) TorchAvailable() bool       { return c.torch.available() }
func (c *Controller) TorchEnabled() bool         { return c.torch.enabled() }
