package session

import "errors"

var (
	// ErrBindFailed reports that the capture device could not be opened or bound.
	// The session returns to idle; it is reported once per start attempt.
	ErrBindFailed = errors.New("session: bind failed")
	// ErrDecodeFailed reports a per-frame decode failure. Intake continues.
	ErrDecodeFailed = errors.New("session: decode failed")
	// ErrClosed is returned by Sync once the controller has been closed.
	ErrClosed = errors.New("session: controller closed")
)
