package capture

import (
	"time"
)

// CaptureStats summarises device loop behaviour for instrumentation.
type CaptureStats struct {
	Captures         uint64
	Skipped          uint64
	AvgCapture       time.Duration
	AvgCaptureMicros float64
	LastCapture      time.Time
	Sequence         uint64
	Outstanding      int64 // frames handed to the consumer and not yet released
	Zoom             float64
	Torch            bool
}
