package session

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// controlLoop is the single control thread. Tasks run one at a time on one
// goroutine, in submission order. The queue is unbounded so submit never
// blocks the caller.
type controlLoop struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newControlLoop(logger *slog.Logger) *controlLoop {
	l := &controlLoop{logger: logger, wake: make(chan struct{}, 1), done: make(chan struct{})}
	go l.run()
	return l
}

// submit enqueues task. It reports false once the loop has been closed.
func (l *controlLoop) submit(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	l.signal()
	return true
}

// sync waits until every task submitted before the call has run.
func (l *controlLoop) sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !l.submit(func() { close(reached) }) {
		return ErrClosed
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting tasks, lets the queued ones finish and waits for the
// loop goroutine to exit. Must not be called from a control task.
func (l *controlLoop) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}

func (l *controlLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *controlLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.exec(task)
	}
}

func (l *controlLoop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("control task panic", "error", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
