package results

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/soocke/qrscan/domain/session"
)

const defaultDedupSize = 256

// deduper suppresses payloads already seen within a time window.
type deduper struct {
	seen *expirable.LRU[string, struct{}]
}

// newDeduper returns nil when window is not positive; a nil deduper passes
// everything.
func newDeduper(window time.Duration, size int) *deduper {
	if window <= 0 {
		return nil
	}
	if size <= 0 {
		size = defaultDedupSize
	}
	return &deduper{seen: expirable.NewLRU[string, struct{}](size, nil, window)}
}

func key(s session.Symbol) string { return s.Format + "\x00" + s.Text }

// filter returns the symbols not seen within the window and marks them.
func (d *deduper) filter(symbols []session.Symbol) []session.Symbol {
	if d == nil {
		return symbols
	}
	out := symbols[:0:0]
	for _, s := range symbols {
		k := key(s)
		if _, ok := d.seen.Get(k); ok {
			continue
		}
		d.seen.Add(k, struct{}{})
		out = append(out, s)
	}
	return out
}
