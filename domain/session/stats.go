package session

import (
	"sync/atomic"
	"time"
)

const scanStatsLogInterval = 5 * time.Second

// Stats summarises the current session for instrumentation.
type Stats struct {
	State         State
	SessionID     string
	FramesOffered uint64
	FramesDropped uint64
	Undecodable   uint64
	Decoded       uint64
	DecodeErrors  uint64
	Symbols       uint64
	AvgDecode     time.Duration
	Session       time.Duration // duration of the current (or last) session
	Total         time.Duration // accumulated scanning time across sessions
}

// frameCounters are shared by the gate and the pipeline of one session.
type frameCounters struct {
	offered     atomic.Uint64
	dropped     atomic.Uint64
	undecodable atomic.Uint64
	decoded     atomic.Uint64
	failed      atomic.Uint64
	symbols     atomic.Uint64
	decodeNanos atomic.Uint64
}

func (c *frameCounters) fill(s *Stats) {
	if c == nil {
		return
	}
	s.FramesOffered = c.offered.Load()
	s.FramesDropped = c.dropped.Load()
	s.Undecodable = c.undecodable.Load()
	s.Decoded = c.decoded.Load()
	s.DecodeErrors = c.failed.Load()
	s.Symbols = c.symbols.Load()
	if runs := s.Decoded + s.DecodeErrors; runs > 0 {
		s.AvgDecode = time.Duration(c.decodeNanos.Load() / runs)
	}
}
