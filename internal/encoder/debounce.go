package encoder

import "time"

// DefaultDebounce is the minimum spacing between accepted button edges.
const DefaultDebounce = 200 * time.Millisecond

// Debouncer drops edges that arrive within Delay of the last accepted one.
// Dropped edges are not queued.
//
// Not safe for concurrent use.
type Debouncer struct {
	delay time.Duration
	last  time.Time
}

// NewDebouncer returns a Debouncer whose window starts at start, so an edge
// right after boot is treated like any other bounce.
func NewDebouncer(delay time.Duration, start time.Time) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, last: start}
}

// Accept reports whether the edge at t should be handled, and if so makes t
// the new reference point.
func (d *Debouncer) Accept(t time.Time) bool {
	if t.Sub(d.last) < d.delay {
		return false
	}
	d.last = t
	return true
}

func (d *Debouncer) LastAccepted() time.Time { return d.last }
