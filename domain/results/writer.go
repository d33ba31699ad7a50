package results

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// WriterSink writes events to w, either one JSON object per line or the
// bare payload text of each symbol.
type WriterSink struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func NewWriterSink(w io.Writer, asJSON bool) *WriterSink {
	return &WriterSink{w: w, json: asJSON}
}

func (s *WriterSink) Name() string { return "writer" }

func (s *WriterSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.json {
		return json.NewEncoder(s.w).Encode(e)
	}
	if e.Kind == KindError {
		return nil
	}
	for _, sym := range e.Symbols {
		if _, err := fmt.Fprintln(s.w, sym.Text); err != nil {
			return err
		}
	}
	return nil
}
