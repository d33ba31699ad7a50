package session

import (
	"context"
	"errors"
)

// OnceHooks lets ScanOnce callers reach the controller it creates. Either
// field may be nil.
type OnceHooks struct {
	// Created runs before Start, before any callback can fire.
	Created func(*Controller)
	// Started runs right after Start, for example to request a zoom ratio.
	Started func(*Controller)
}

// ScanOnce starts a session, waits for the first non-empty result and stops.
// Decode failures are forwarded to opts.Callbacks.OnError and scanning
// continues; a bind failure ends the scan with that error.
func ScanOnce(ctx context.Context, subsystem CaptureSubsystem, decoder Decoder, cfg StartConfig, opts Options, hooks OnceHooks) ([]Symbol, error) {
	found := make(chan []Symbol, 1)
	failed := make(chan error, 1)
	user := opts.Callbacks
	opts.Callbacks = Callbacks{
		OnSymbols: func(symbols []Symbol) {
			if len(symbols) == 0 {
				return
			}
			select {
			case found <- symbols:
			default:
			}
		},
		OnError: func(err error) {
			if errors.Is(err, ErrBindFailed) {
				select {
				case failed <- err:
				default:
				}
			}
			user.error(err)
		},
		OnZoomReady: user.OnZoomReady,
	}

	c := NewController(subsystem, decoder, opts)
	defer c.Close()
	if hooks.Created != nil {
		hooks.Created(c)
	}
	c.Start(cfg)
	if hooks.Started != nil {
		hooks.Started(c)
	}

	select {
	case symbols := <-found:
		user.symbols(symbols)
		return symbols, nil
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
