package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var discardLogger = slog.New(slog.DiscardHandler)

// testFrame counts releases so tests can assert exactly-once ownership.
type testFrame struct {
	img      image.Image
	releases atomic.Int32
}

func newTestFrame() *testFrame {
	return &testFrame{img: image.NewGray(image.Rect(0, 0, 4, 4))}
}

func (f *testFrame) Image() image.Image { return f.img }
func (f *testFrame) Release()           { f.releases.Add(1) }

type fakeDevice struct {
	mu         sync.Mutex
	onFrame    func(Frame)
	onCap      func(ZoomState)
	zoom       ZoomState
	hasZoom    bool
	zoomCalls  []float64
	hasTorch   bool
	torchOn    bool
	torchCalls []bool
	binds      int
	unbinds    int
	bindErr    error
}

func (d *fakeDevice) BindAnalysis(onFrame func(Frame)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binds++
	if d.bindErr != nil {
		return d.bindErr
	}
	d.onFrame = onFrame
	return nil
}

func (d *fakeDevice) ObserveCapability(onChanged func(ZoomState)) {
	d.mu.Lock()
	d.onCap = onChanged
	d.mu.Unlock()
}

func (d *fakeDevice) ZoomState() (ZoomState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom, d.hasZoom
}

func (d *fakeDevice) SetZoom(ratio float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.zoomCalls = append(d.zoomCalls, ratio)
	d.zoom.Current = ratio
	return nil
}

func (d *fakeDevice) SetTorch(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.torchCalls = append(d.torchCalls, enabled)
	d.torchOn = enabled
	return nil
}

func (d *fakeDevice) HasTorch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasTorch
}

func (d *fakeDevice) TorchEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torchOn
}

func (d *fakeDevice) Unbind() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unbinds++
	d.onFrame = nil
	return nil
}

// capability reports a snapshot the way a device observer would.
func (d *fakeDevice) capability(zs ZoomState) {
	d.mu.Lock()
	d.zoom, d.hasZoom = zs, true
	cb := d.onCap
	d.mu.Unlock()
	if cb != nil {
		cb(zs)
	}
}

func (d *fakeDevice) loseCapability() {
	d.mu.Lock()
	d.hasZoom = false
	d.mu.Unlock()
}

// deliver pushes f into the bound analysis callback. It reports false when
// nothing is bound.
func (d *fakeDevice) deliver(f Frame) bool {
	d.mu.Lock()
	cb := d.onFrame
	d.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(f)
	return true
}

func (d *fakeDevice) counts() (binds, unbinds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.binds, d.unbinds
}

func (d *fakeDevice) zooms() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.zoomCalls...)
}

func (d *fakeDevice) torches() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.torchCalls...)
}

type fakeSubsystem struct {
	dev   *fakeDevice
	err   error
	hold  chan struct{} // when set, Open waits for it to close
	opens atomic.Int32

	mu     sync.Mutex
	sizes  []image.Point
	reject func(image.Point) bool
}

func (s *fakeSubsystem) Open(ctx context.Context, facing Facing, size image.Point) (CaptureDevice, error) {
	s.opens.Add(1)
	s.mu.Lock()
	s.sizes = append(s.sizes, size)
	reject := s.reject
	s.mu.Unlock()
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if reject != nil && reject(size) {
		return nil, errors.New("unsupported size")
	}
	return s.dev, nil
}

// gatedDecoder blocks every decode until the test lets it finish.
type gatedDecoder struct {
	started chan struct{}
	finish  chan struct{}
	calls   atomic.Int32
	symbols []Symbol
	err     error
}

func newGatedDecoder(symbols ...Symbol) *gatedDecoder {
	return &gatedDecoder{started: make(chan struct{}, 64), finish: make(chan struct{}, 64), symbols: symbols}
}

func (d *gatedDecoder) Decode(ctx context.Context, img image.Image) ([]Symbol, error) {
	d.calls.Add(1)
	d.started <- struct{}{}
	select {
	case <-d.finish:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.symbols, d.err
}

var instantDecoder = DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
	return []Symbol{{Text: "hello", Format: "QR_CODE"}}, nil
})

type recorder struct {
	mu      sync.Mutex
	results [][]Symbol
	errs    []error
	ready   []ZoomState
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSymbols: func(s []Symbol) {
			r.mu.Lock()
			r.results = append(r.results, s)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnZoomReady: func(z ZoomState) {
			r.mu.Lock()
			r.ready = append(r.ready, z)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (results, errs, ready int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results), len(r.errs), len(r.ready)
}

func (r *recorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func syncLoop(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

// startRunning starts c and waits until the device is bound.
func startRunning(t *testing.T, c *Controller) {
	t.Helper()
	c.Start(StartConfig{Resolution: ResolutionMedium})
	waitFor(t, time.Second, "running state", func() bool { return c.State() == StateRunning })
}
