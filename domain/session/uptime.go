package session

import "time"

// uptime tracks how long the current session has been scanning and the
// accumulated scanning time across sessions. Not synchronized; the
// controller guards it with its own mutex.
type uptime struct {
	active      bool
	since       time.Time
	last        time.Duration
	accumulated time.Duration
}

// mark records a transition into (scanning=true) or out of scanning.
// Repeated marks with the same value are no-ops.
func (u *uptime) mark(scanning bool, now time.Time) {
	if scanning == u.active {
		return
	}
	if scanning {
		u.active = true
		u.since = now
		u.last = 0
		return
	}
	u.last = now.Sub(u.since)
	u.accumulated += u.last
	u.active = false
}

// values returns the current (or last) session duration and the total,
// including the ongoing session.
func (u *uptime) values(now time.Time) (session, total time.Duration) {
	session = u.last
	total = u.accumulated
	if u.active {
		session = now.Sub(u.since)
		total += session
	}
	return session, total
}
