// Package ratelimit implements the per-session inbound message window and the
// HTTP rate limiting for the JSON API surface.
package ratelimit

import "time"

const (
	// WarnThreshold is the number of frames per window relayed without action.
	WarnThreshold = 10

	// HardThreshold is the number of frames per window beyond which the
	// connection is terminated.
	HardThreshold = 50

	// windowLength is the fixed window size.
	windowLength = time.Second
)

// Action is the outcome of counting one inbound frame.
type Action int

const (
	// Proceed relays the frame.
	Proceed Action = iota
	// Drop discards the frame but keeps the connection.
	Drop
	// Disconnect terminates the session.
	Disconnect
)

// Window is a per-session fixed one-second window with soft and hard
// thresholds. Not safe for concurrent use; each session owns one and counts
// from its single inbound loop.
type Window struct {
	count int
	start time.Time
	now   func() time.Time
}

// NewWindow creates a window using the wall clock.
func NewWindow() *Window {
	return newWindowWithClock(time.Now)
}

func newWindowWithClock(now func() time.Time) *Window {
	return &Window{start: now(), now: now}
}

// Count records one inbound text frame and returns what to do with it. The
// window resets before the current frame is counted, so the first frame of a
// fresh window always proceeds.
func (w *Window) Count() Action {
	if w.now().Sub(w.start) >= windowLength {
		w.count = 0
		w.start = w.now()
	}
	w.count++

	switch {
	case w.count > HardThreshold:
		return Disconnect
	case w.count > WarnThreshold:
		return Drop
	default:
		return Proceed
	}
}
