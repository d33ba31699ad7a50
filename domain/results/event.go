package results

import (
	"time"

	"github.com/soocke/qrscan/domain/session"
)

// Kind distinguishes result events from error events.
type Kind string

const (
	KindSymbols Kind = "symbols"
	KindError   Kind = "error"
)

// Event is one delivered scan outcome.
type Event struct {
	ID        string           `json:"id"`
	Kind      Kind             `json:"kind"`
	SessionID string           `json:"session_id,omitempty"`
	Source    string           `json:"source,omitempty"` // file path for one-shot reads
	At        time.Time        `json:"at"`
	Symbols   []session.Symbol `json:"symbols,omitempty"`
	Error     string           `json:"error,omitempty"`
}
