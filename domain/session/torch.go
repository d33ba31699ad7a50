package session

import (
	"log/slog"
	"sync"
)

// torchController forwards torch requests to the bound device. Without a
// device every query is false and every command is a no-op.
type torchController struct {
	logger *slog.Logger
	submit func(func()) bool

	mu     sync.Mutex
	gen    uint64
	device CaptureDevice
}

func newTorchController(logger *slog.Logger, submit func(func()) bool) *torchController {
	return &torchController{logger: logger, submit: submit}
}

func (t *torchController) bind(gen uint64, dev CaptureDevice) {
	t.mu.Lock()
	t.gen, t.device = gen, dev
	t.mu.Unlock()
}

func (t *torchController) reset() {
	t.mu.Lock()
	t.device = nil
	t.mu.Unlock()
}

func (t *torchController) bound() (CaptureDevice, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device, t.gen
}

func (t *torchController) available() bool {
	dev, _ := t.bound()
	return dev != nil && dev.HasTorch()
}

func (t *torchController) enabled() bool {
	dev, _ := t.bound()
	return dev != nil && dev.TorchEnabled()
}

// enable is fire-and-forget; the device confirms through its own state.
func (t *torchController) enable(on bool) {
	dev, gen := t.bound()
	if dev == nil {
		return
	}
	t.submit(func() {
		if cur, curGen := t.bound(); cur != dev || curGen != gen {
			return
		}
		if !dev.HasTorch() {
			return
		}
		if err := dev.SetTorch(on); err != nil && t.logger != nil {
			t.logger.Warn("set torch", "enabled", on, "error", err)
		}
	})
}

func (t *torchController) toggle() {
	if !t.available() {
		return
	}
	t.enable(!t.enabled())
}
