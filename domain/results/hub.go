package results

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soocke/qrscan/domain/session"
)

const (
	defaultQueueSize = 64
	publishTimeout   = 5 * time.Second
)

// Sink receives published events. Publish runs on the hub's dispatch
// goroutine, one event at a time.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Name() string                               { return "func" }
func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Options configures a Hub.
type Options struct {
	// DuplicateWindow suppresses a payload seen again within the window.
	// Zero disables suppression.
	DuplicateWindow time.Duration
	DuplicateSize   int
	// History is the number of recent events kept for Recent.
	History   int
	QueueSize int
}

// HubStats counts hub activity.
type HubStats struct {
	Events     uint64 `json:"events"`
	Suppressed uint64 `json:"suppressed"`
	Dropped    uint64 `json:"dropped"`
	SinkErrors uint64 `json:"sink_errors"`
}

// Hub fans session results out to sinks without blocking the decode
// worker. Events are dispatched in order on one goroutine; when the queue
// is full new events are dropped and counted.
type Hub struct {
	logger  *slog.Logger
	sinks   []Sink
	dedup   *deduper
	history *history

	queue   chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	events     atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
	sinkErrors atomic.Uint64
}

func NewHub(logger *slog.Logger, opts Options, sinks ...Sink) (*Hub, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	hist, err := newHistory(opts.History)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		logger:  logger,
		sinks:   sinks,
		dedup:   newDeduper(opts.DuplicateWindow, opts.DuplicateSize),
		history: hist,
		queue:   make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h, nil
}

// Callbacks returns session callbacks that feed the hub. sessionID is
// called per event to tag it.
func (h *Hub) Callbacks(sessionID func() string) session.Callbacks {
	return session.Callbacks{
		OnSymbols: func(symbols []session.Symbol) { h.Symbols(sessionID(), symbols) },
		OnError:   func(err error) { h.Error(sessionID(), err) },
	}
}

// Symbols publishes a decode result. Empty results and fully suppressed
// duplicates publish nothing.
func (h *Hub) Symbols(sessionID string, symbols []session.Symbol) {
	if len(symbols) == 0 {
		return
	}
	fresh := h.dedup.filter(symbols)
	if n := len(symbols) - len(fresh); n > 0 {
		h.suppressed.Add(uint64(n))
	}
	if len(fresh) == 0 {
		return
	}
	h.enqueue(Event{Kind: KindSymbols, SessionID: sessionID, Symbols: fresh})
}

func (h *Hub) Error(sessionID string, err error) {
	if err == nil {
		return
	}
	h.enqueue(Event{Kind: KindError, SessionID: sessionID, Error: err.Error()})
}

func (h *Hub) enqueue(e Event) {
	e.ID = uuid.NewString()
	e.At = time.Now()
	select {
	case <-h.done:
		h.dropped.Add(1)
		return
	default:
	}
	select {
	case h.queue <- e:
	default:
		h.dropped.Add(1)
		h.logger.Warn("result queue full, event dropped", "kind", e.Kind)
	}
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case e := <-h.queue:
			h.dispatch(e)
		case <-h.done:
			for {
				select {
				case e := <-h.queue:
					h.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) dispatch(e Event) {
	h.events.Add(1)
	h.history.add(e)
	for _, s := range h.sinks {
		if err := h.publish(s, e); err != nil {
			h.sinkErrors.Add(1)
			h.logger.Warn("sink publish", "sink", s.Name(), "event", e.ID, "error", err)
		}
	}
}

func (h *Hub) publish(s Sink, e Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("sink panic", "sink", s.Name(), "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("sink %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Publish(ctx, e)
}

// Recent returns up to n events, newest first.
func (h *Hub) Recent(n int) []Event { return h.history.recent(n) }

func (h *Hub) Stats() HubStats {
	return HubStats{
		Events:     h.events.Load(),
		Suppressed: h.suppressed.Load(),
		Dropped:    h.dropped.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// Close dispatches the queued events, waits for the dispatch goroutine and
// stops the hub. Sinks are not closed.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
	<-h.stopped
}
