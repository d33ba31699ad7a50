package session

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestController(sub CaptureSubsystem, dec Decoder, rec *recorder) *Controller {
	opts := Options{Logger: discardLogger}
	if rec != nil {
		opts.Callbacks = rec.callbacks()
	}
	return NewController(sub, dec, opts)
}

func TestController_StopIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, nil)
	defer c.Close()

	c.Stop()
	c.Stop()
	if st := c.State(); st != StateStopped {
		t.Fatalf("expected stopped before any start, got %v", st)
	}

	startRunning(t, c)
	c.Stop()
	c.Stop()
	if st := c.State(); st != StateStopped {
		t.Fatalf("expected stopped, got %v", st)
	}
	syncLoop(t, c)
	if _, unbinds := dev.counts(); unbinds != 1 {
		t.Fatalf("expected exactly one unbind, got %d", unbinds)
	}
}

func TestController_QueriesDefaultWithoutSession(t *testing.T) {
	c := newTestController(&fakeSubsystem{dev: &fakeDevice{hasTorch: true}}, instantDecoder, nil)
	defer c.Close()

	if c.ZoomRatio() != 1 || c.MinZoomRatio() != 1 || c.MaxZoomRatio() != 1 {
		t.Fatalf("expected identity zoom, got %v %v %v", c.ZoomRatio(), c.MinZoomRatio(), c.MaxZoomRatio())
	}
	if c.TorchAvailable() || c.TorchEnabled() {
		t.Fatalf("torch must report false without a session")
	}

	startRunning(t, c)
	c.Stop()
	if c.ZoomRatio() != 1 || c.MinZoomRatio() != 1 || c.MaxZoomRatio() != 1 {
		t.Fatalf("expected identity zoom after stop")
	}
	if c.TorchAvailable() {
		t.Fatalf("torch must report false after stop")
	}
}

func TestController_ControlBeforeStartIsNoop(t *testing.T) {
	dev := &fakeDevice{hasTorch: true}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, nil)
	defer c.Close()

	c.Pause()
	c.Resume()
	c.EnableTorch(true)
	c.ToggleTorch()
	c.SetZoomRatio(4)
	syncLoop(t, c)
	if st := c.State(); st != StateIdle {
		t.Fatalf("expected idle, got %v", st)
	}

	startRunning(t, c)
	dev.capability(ZoomState{Min: 1, Max: 5, Current: 1})
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 0 {
		t.Fatalf("zoom requested before start must not be applied, got %v", calls)
	}
	if calls := dev.torches(); len(calls) != 0 {
		t.Fatalf("torch requested before start must not be applied, got %v", calls)
	}
}

func TestController_ClampsZoomOnceReady(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, rec)
	defer c.Close()

	startRunning(t, c)
	dev.capability(ZoomState{Min: 1, Max: 8, Current: 1})
	syncLoop(t, c)
	if !c.ZoomReady() {
		t.Fatalf("expected zoom ready")
	}

	c.SetZoomRatio(12)
	syncLoop(t, c)
	calls := dev.zooms()
	if len(calls) != 1 || calls[0] != 8 {
		t.Fatalf("expected single clamped setZoom(8), got %v", calls)
	}
	if c.ZoomRatio() != 8 || c.MaxZoomRatio() != 8 || c.MinZoomRatio() != 1 {
		t.Fatalf("unexpected zoom readings %v %v %v", c.ZoomRatio(), c.MinZoomRatio(), c.MaxZoomRatio())
	}

	c.SetZoomRatio(0.2)
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 2 || calls[1] != 1 {
		t.Fatalf("expected clamp to min, got %v", calls)
	}
}

func TestController_IgnoresNonFiniteZoom(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, rec)
	defer c.Close()

	startRunning(t, c)
	c.SetZoomRatio(math.NaN())
	dev.capability(ZoomState{Min: 1, Max: 4, Current: 1})
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 0 {
		t.Fatalf("NaN must not become a pending request, got %v", calls)
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		c.SetZoomRatio(bad)
	}
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 0 {
		t.Fatalf("non-finite ratios must not reach the device, got %v", calls)
	}
	if c.ZoomRatio() != 1 {
		t.Fatalf("zoom changed to %v", c.ZoomRatio())
	}
}

func TestController_PendingZoomLastWriteWins(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, rec)
	defer c.Close()

	startRunning(t, c)
	c.SetZoomRatio(2)
	c.SetZoomRatio(4)
	c.SetZoomRatio(3)
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 0 {
		t.Fatalf("device must not be touched before readiness, got %v", calls)
	}

	dev.capability(ZoomState{Min: 1, Max: 5, Current: 1})
	syncLoop(t, c)
	calls := dev.zooms()
	if len(calls) != 1 || calls[0] != 3 {
		t.Fatalf("expected exactly one setZoom(3), got %v", calls)
	}

	// Later snapshots never re-apply the consumed request or re-announce.
	dev.capability(ZoomState{Min: 1, Max: 5, Current: 3})
	dev.capability(ZoomState{Min: 1, Max: 5, Current: 3})
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 1 {
		t.Fatalf("pending zoom re-applied: %v", calls)
	}
	if _, _, ready := rec.counts(); ready != 1 {
		t.Fatalf("expected one zoom-ready notification, got %d", ready)
	}
}

func TestController_PendingZoomDuringStarting(t *testing.T) {
	dev := &fakeDevice{}
	sub := &fakeSubsystem{dev: dev, hold: make(chan struct{})}
	c := newTestController(sub, instantDecoder, nil)
	defer c.Close()

	c.Start(StartConfig{})
	c.SetZoomRatio(2.5)
	if c.State() != StateStarting {
		t.Fatalf("expected starting, got %v", c.State())
	}
	close(sub.hold)
	waitFor(t, time.Second, "running", func() bool { return c.State() == StateRunning })
	dev.capability(ZoomState{Min: 1, Max: 4, Current: 1})
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 1 || calls[0] != 2.5 {
		t.Fatalf("expected pending setZoom(2.5), got %v", calls)
	}
}

func TestController_ZoomCapabilityLossRearmsRequest(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, rec)
	defer c.Close()

	startRunning(t, c)
	dev.capability(ZoomState{Min: 1, Max: 6, Current: 1})
	syncLoop(t, c)

	dev.loseCapability()
	c.SetZoomRatio(2)
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 0 {
		t.Fatalf("no zoom expected while capability is missing, got %v", calls)
	}
	if c.ZoomReady() {
		t.Fatalf("expected readiness to drop after capability loss")
	}
	if c.ZoomRatio() != 1 {
		t.Fatalf("expected identity zoom while capability is missing, got %v", c.ZoomRatio())
	}

	dev.capability(ZoomState{Min: 1, Max: 6, Current: 1})
	syncLoop(t, c)
	if calls := dev.zooms(); len(calls) != 1 || calls[0] != 2 {
		t.Fatalf("expected re-armed setZoom(2), got %v", calls)
	}
	if _, _, ready := rec.counts(); ready != 1 {
		t.Fatalf("zoom-ready must be announced once per session, got %d", ready)
	}
}

func TestController_KeepOnlyLatestBackpressure(t *testing.T) {
	dev := &fakeDevice{}
	dec := newGatedDecoder(Symbol{Text: "A"})
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, dec, rec)
	defer c.Close()

	startRunning(t, c)
	a, b, cf := newTestFrame(), newTestFrame(), newTestFrame()

	dev.deliver(a)
	<-dec.started
	dev.deliver(b)
	if b.releases.Load() != 1 {
		t.Fatalf("frame B must be released immediately, releases=%d", b.releases.Load())
	}
	if dec.calls.Load() != 1 {
		t.Fatalf("decode must run only for A, calls=%d", dec.calls.Load())
	}
	if a.releases.Load() != 0 {
		t.Fatalf("frame A released while decoding")
	}

	dec.finish <- struct{}{}
	waitFor(t, time.Second, "result for A", func() bool { n, _, _ := rec.counts(); return n == 1 })
	if a.releases.Load() != 1 {
		t.Fatalf("frame A must be released once after decode, releases=%d", a.releases.Load())
	}

	dev.deliver(cf)
	<-dec.started
	if dec.calls.Load() != 2 {
		t.Fatalf("frame C must be decoded, calls=%d", dec.calls.Load())
	}
	dec.finish <- struct{}{}
	waitFor(t, time.Second, "C released", func() bool { return cf.releases.Load() == 1 })

	st := c.Stats()
	if st.FramesOffered != 3 || st.FramesDropped != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestController_PausedFramesAreReleasedWithoutDecode(t *testing.T) {
	dev := &fakeDevice{}
	var calls atomic.Int32
	dec := DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
		calls.Add(1)
		return nil, nil
	})
	c := newTestController(&fakeSubsystem{dev: dev}, dec, nil)
	defer c.Close()

	startRunning(t, c)
	c.Pause()
	c.Pause()
	if c.State() != StatePaused {
		t.Fatalf("expected paused, got %v", c.State())
	}
	frames := make([]*testFrame, 5)
	for i := range frames {
		frames[i] = newTestFrame()
		if !dev.deliver(frames[i]) {
			t.Fatalf("pipeline must stay bound while paused")
		}
		if frames[i].releases.Load() != 1 {
			t.Fatalf("paused frame %d not released", i)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("decoder invoked while paused: %d", calls.Load())
	}
	if binds, _ := dev.counts(); binds != 1 {
		t.Fatalf("pause must not rebind, binds=%d", binds)
	}

	c.Resume()
	c.Resume()
	if c.State() != StateRunning {
		t.Fatalf("expected running, got %v", c.State())
	}
	f := newTestFrame()
	dev.deliver(f)
	waitFor(t, time.Second, "decode after resume", func() bool { return calls.Load() == 1 && f.releases.Load() == 1 })
	if binds, _ := dev.counts(); binds != 1 {
		t.Fatalf("resume must not rebind, binds=%d", binds)
	}
}

func TestController_PauseDuringStartingBindsPaused(t *testing.T) {
	dev := &fakeDevice{}
	sub := &fakeSubsystem{dev: dev, hold: make(chan struct{})}
	c := newTestController(sub, instantDecoder, nil)
	defer c.Close()

	c.Start(StartConfig{})
	c.Pause()
	close(sub.hold)
	waitFor(t, time.Second, "paused after bind", func() bool { return c.State() == StatePaused })
	f := newTestFrame()
	dev.deliver(f)
	if f.releases.Load() != 1 {
		t.Fatalf("frame must be dropped while paused")
	}
}

func TestController_AtMostOneDecodeInFlight(t *testing.T) {
	dev := &fakeDevice{}
	var inFlight, maxInFlight atomic.Int32
	dec := DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(200 * time.Microsecond)
		inFlight.Add(-1)
		return nil, nil
	})
	c := newTestController(&fakeSubsystem{dev: dev}, dec, nil)
	defer c.Close()
	startRunning(t, c)

	var frames []*testFrame
	var framesMu sync.Mutex
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for {
			select {
			case <-stop:
				return
			default:
			}
			if rng.Intn(2) == 0 {
				c.Pause()
			} else {
				c.Resume()
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			f := newTestFrame()
			framesMu.Lock()
			frames = append(frames, f)
			framesMu.Unlock()
			dev.deliver(f)
		}
		close(stop)
	}()
	wg.Wait()
	c.Resume()

	if m := maxInFlight.Load(); m > 1 {
		t.Fatalf("observed %d concurrent decodes", m)
	}
	waitFor(t, 2*time.Second, "all frames released", func() bool {
		framesMu.Lock()
		defer framesMu.Unlock()
		for _, f := range frames {
			if f.releases.Load() != 1 {
				return false
			}
		}
		return true
	})
	framesMu.Lock()
	defer framesMu.Unlock()
	for i, f := range frames {
		if n := f.releases.Load(); n != 1 {
			t.Fatalf("frame %d released %d times", i, n)
		}
	}
}

func TestController_StopWhileBindPending(t *testing.T) {
	dev := &fakeDevice{}
	sub := &fakeSubsystem{dev: dev, hold: make(chan struct{})}
	rec := &recorder{}
	c := newTestController(sub, instantDecoder, rec)
	defer c.Close()

	c.Start(StartConfig{})
	waitFor(t, time.Second, "open attempt", func() bool { return sub.opens.Load() == 1 })
	c.Stop()
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", c.State())
	}

	close(sub.hold)
	waitFor(t, time.Second, "immediate unbind", func() bool { _, u := dev.counts(); return u == 1 })
	syncLoop(t, c)
	if binds, _ := dev.counts(); binds != 0 {
		t.Fatalf("analysis must never be bound after stop, binds=%d", binds)
	}
	if dev.deliver(newTestFrame()) {
		t.Fatalf("no frame may reach the gate")
	}
	if c.State() != StateStopped {
		t.Fatalf("late bind changed state to %v", c.State())
	}
	if _, errs, _ := rec.counts(); errs != 0 {
		t.Fatalf("late bind must not report errors, got %v", rec.lastErr())
	}
}

func TestController_BindFailureReturnsToIdle(t *testing.T) {
	boom := errors.New("no camera")
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{err: boom}, instantDecoder, rec)
	defer c.Close()

	c.Start(StartConfig{})
	waitFor(t, time.Second, "idle after failure", func() bool { return c.State() == StateIdle })
	waitFor(t, time.Second, "bind error", func() bool { _, n, _ := rec.counts(); return n == 1 })
	err := rec.lastErr()
	if !errors.Is(err, ErrBindFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped bind failure, got %v", err)
	}
	syncLoop(t, c)
	if _, n, _ := rec.counts(); n != 1 {
		t.Fatalf("bind failure must be reported once, got %d", n)
	}
}

func TestController_AnalysisBindFailureReportsError(t *testing.T) {
	dev := &fakeDevice{bindErr: errors.New("analysis rejected")}
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, rec)
	defer c.Close()

	c.Start(StartConfig{})
	waitFor(t, time.Second, "idle after failure", func() bool { return c.State() == StateIdle })
	waitFor(t, time.Second, "unbind", func() bool { _, u := dev.counts(); return u == 1 })
	if !errors.Is(rec.lastErr(), ErrBindFailed) {
		t.Fatalf("expected bind failure, got %v", rec.lastErr())
	}
}

func TestController_DecodeErrorKeepsSessionAlive(t *testing.T) {
	dev := &fakeDevice{}
	var n atomic.Int32
	dec := DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
		if n.Add(1) == 1 {
			return nil, errors.New("checksum")
		}
		return []Symbol{{Text: "ok"}}, nil
	})
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, dec, rec)
	defer c.Close()
	startRunning(t, c)

	f1 := newTestFrame()
	dev.deliver(f1)
	waitFor(t, time.Second, "decode error", func() bool { _, e, _ := rec.counts(); return e == 1 })
	if !errors.Is(rec.lastErr(), ErrDecodeFailed) {
		t.Fatalf("expected decode failure, got %v", rec.lastErr())
	}
	waitFor(t, time.Second, "f1 released", func() bool { return f1.releases.Load() == 1 })

	f2 := newTestFrame()
	dev.deliver(f2)
	waitFor(t, time.Second, "result", func() bool { r, _, _ := rec.counts(); return r == 1 })
	if c.State() != StateRunning {
		t.Fatalf("decode error must not end the session, state=%v", c.State())
	}
	st := c.Stats()
	if st.DecodeErrors != 1 || st.Decoded != 1 || st.Symbols != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestController_DecoderPanicIsAFrameFailure(t *testing.T) {
	dev := &fakeDevice{}
	dec := DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
		panic("corrupt buffer")
	})
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, dec, rec)
	defer c.Close()
	startRunning(t, c)

	f := newTestFrame()
	dev.deliver(f)
	waitFor(t, time.Second, "decode error", func() bool { _, e, _ := rec.counts(); return e == 1 })
	if f.releases.Load() != 1 {
		t.Fatalf("frame must be released after panic")
	}
	g := newTestFrame()
	dev.deliver(g)
	waitFor(t, time.Second, "intake continues", func() bool { _, e, _ := rec.counts(); return e == 2 })
}

func TestController_UndecodableFrameSkipsDecoder(t *testing.T) {
	dev := &fakeDevice{}
	var calls atomic.Int32
	dec := DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
		calls.Add(1)
		return nil, nil
	})
	c := newTestController(&fakeSubsystem{dev: dev}, dec, nil)
	defer c.Close()
	startRunning(t, c)

	empty := &testFrame{}
	dev.deliver(empty)
	if empty.releases.Load() != 1 || calls.Load() != 0 {
		t.Fatalf("undecodable frame: releases=%d calls=%d", empty.releases.Load(), calls.Load())
	}
	f := newTestFrame()
	dev.deliver(f)
	waitFor(t, time.Second, "next frame decoded", func() bool { return calls.Load() == 1 })
}

func TestController_StopDiscardsInflightDecode(t *testing.T) {
	dev := &fakeDevice{}
	dec := newGatedDecoder(Symbol{Text: "late"})
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, dec, rec)
	defer c.Close()
	startRunning(t, c)

	f := newTestFrame()
	dev.deliver(f)
	<-dec.started
	c.Stop()
	dec.finish <- struct{}{}
	waitFor(t, time.Second, "frame released", func() bool { return f.releases.Load() == 1 })
	syncLoop(t, c)
	if n, _, _ := rec.counts(); n != 0 {
		t.Fatalf("result of a stopped session was delivered")
	}
}

func TestController_TorchFollowsBoundDevice(t *testing.T) {
	dev := &fakeDevice{hasTorch: true}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, nil)
	defer c.Close()
	startRunning(t, c)

	if !c.TorchAvailable() {
		t.Fatalf("expected torch available")
	}
	c.EnableTorch(true)
	syncLoop(t, c)
	if !c.TorchEnabled() {
		t.Fatalf("expected torch enabled")
	}
	c.ToggleTorch()
	syncLoop(t, c)
	if c.TorchEnabled() {
		t.Fatalf("expected torch disabled after toggle")
	}
	if calls := dev.torches(); len(calls) != 2 || !calls[0] || calls[1] {
		t.Fatalf("unexpected torch calls %v", calls)
	}

	c.Stop()
	c.EnableTorch(true)
	c.ToggleTorch()
	syncLoop(t, c)
	if calls := dev.torches(); len(calls) != 2 {
		t.Fatalf("torch commands after stop must be no-ops, got %v", calls)
	}
}

func TestController_NoTorchToggleIsNoop(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, nil)
	defer c.Close()
	startRunning(t, c)

	c.ToggleTorch()
	c.EnableTorch(true)
	syncLoop(t, c)
	if calls := dev.torches(); len(calls) != 0 {
		t.Fatalf("device without torch received %v", calls)
	}
}

func TestController_RestartAfterStop(t *testing.T) {
	dev := &fakeDevice{}
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, rec)
	defer c.Close()

	startRunning(t, c)
	first := c.SessionID()
	dev.capability(ZoomState{Min: 1, Max: 4, Current: 1})
	syncLoop(t, c)
	c.Stop()

	startRunning(t, c)
	if c.SessionID() == first || c.SessionID() == "" {
		t.Fatalf("expected a fresh session id")
	}
	if c.ZoomReady() {
		t.Fatalf("zoom readiness must reset between sessions")
	}
	dev.capability(ZoomState{Min: 1, Max: 4, Current: 1})
	syncLoop(t, c)
	if _, _, ready := rec.counts(); ready != 2 {
		t.Fatalf("expected zoom-ready once per session, got %d", ready)
	}
	f := newTestFrame()
	dev.deliver(f)
	waitFor(t, time.Second, "decode in new session", func() bool { n, _, _ := rec.counts(); return n == 1 })
}

func TestController_RestartWaitsForPreviousDecode(t *testing.T) {
	dev := &fakeDevice{}
	dec := newGatedDecoder(Symbol{Text: "x"})
	rec := &recorder{}
	c := newTestController(&fakeSubsystem{dev: dev}, dec, rec)
	defer c.Close()

	startRunning(t, c)
	old := newTestFrame()
	dev.deliver(old)
	<-dec.started
	c.Stop()

	startRunning(t, c)
	fresh := newTestFrame()
	if !dev.deliver(fresh) {
		t.Fatalf("new session not bound")
	}
	time.Sleep(30 * time.Millisecond)
	if n := dec.calls.Load(); n != 1 {
		t.Fatalf("new session decoded while the previous decode was running, calls=%d", n)
	}

	dec.finish <- struct{}{}
	<-dec.started
	dec.finish <- struct{}{}
	waitFor(t, time.Second, "new session result", func() bool { n, _, _ := rec.counts(); return n == 1 })
	if old.releases.Load() != 1 || fresh.releases.Load() != 1 {
		t.Fatalf("frames must be released once, old=%d fresh=%d", old.releases.Load(), fresh.releases.Load())
	}
}

func TestController_StartWhileRunningRebinds(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, nil)
	defer c.Close()

	startRunning(t, c)
	c.Start(StartConfig{Resolution: ResolutionHigh})
	waitFor(t, time.Second, "second bind", func() bool { b, _ := dev.counts(); return b == 2 && c.State() == StateRunning })
	if _, unbinds := dev.counts(); unbinds != 1 {
		t.Fatalf("previous pipeline must be unbound, unbinds=%d", unbinds)
	}
}

func TestController_UltraFallsBackToHigh(t *testing.T) {
	dev := &fakeDevice{}
	sub := &fakeSubsystem{dev: dev, reject: func(p image.Point) bool { return p.X > 1920 }}
	c := newTestController(sub, instantDecoder, nil)
	defer c.Close()

	c.Start(StartConfig{Resolution: ResolutionUltra})
	waitFor(t, time.Second, "running", func() bool { return c.State() == StateRunning })
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.sizes) != 2 || sub.sizes[1] != image.Pt(1920, 1080) {
		t.Fatalf("expected fallback to 1920x1080, got %v", sub.sizes)
	}
}

func TestController_DecodeIntervalThrottles(t *testing.T) {
	dev := &fakeDevice{}
	var calls atomic.Int32
	dec := DecoderFunc(func(ctx context.Context, img image.Image) ([]Symbol, error) {
		calls.Add(1)
		return nil, nil
	})
	c := NewController(&fakeSubsystem{dev: dev}, dec, Options{Logger: discardLogger, DecodeInterval: time.Hour})
	defer c.Close()
	startRunning(t, c)

	first := newTestFrame()
	dev.deliver(first)
	waitFor(t, time.Second, "first decode", func() bool { return first.releases.Load() == 1 })
	second := newTestFrame()
	dev.deliver(second)
	if second.releases.Load() != 1 || calls.Load() != 1 {
		t.Fatalf("frame inside the interval must be dropped, calls=%d", calls.Load())
	}
}

func TestController_CloseStopsEverything(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(&fakeSubsystem{dev: dev}, instantDecoder, nil)
	startRunning(t, c)
	c.Close()
	c.Close()

	if _, unbinds := dev.counts(); unbinds != 1 {
		t.Fatalf("close must unbind, unbinds=%d", unbinds)
	}
	c.Start(StartConfig{})
	if c.State() != StateStopped {
		t.Fatalf("closed controller must ignore start, state=%v", c.State())
	}
	if err := c.Sync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
