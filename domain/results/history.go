package results

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// history keeps the most recent events, evicting the oldest.
type history struct {
	seq    uint64
	events *lru.Cache[uint64, Event]
}

func newHistory(size int) (*history, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[uint64, Event](size)
	if err != nil {
		return nil, err
	}
	return &history{events: c}, nil
}

// add is called from the hub's dispatch goroutine only.
func (h *history) add(e Event) {
	if h == nil {
		return
	}
	h.seq++
	h.events.Add(h.seq, e)
}

// recent returns up to n events, newest first. n <= 0 returns all.
func (h *history) recent(n int) []Event {
	if h == nil {
		return nil
	}
	values := h.events.Values() // oldest first
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	out := make([]Event, 0, n)
	for i := len(values) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, values[i])
	}
	return out
}
