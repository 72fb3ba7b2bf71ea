package core

import "time"

// Timer is a resettable monotonic stopwatch used by Transaction to
// decide when a retransmission is due. Not suspendable: elapsed time
// keeps advancing regardless of whether anything reads it.
type Timer struct {
	start time.Time
}

// NewTimer returns a Timer already reset to now.
func NewTimer() *Timer {
	t := &Timer{}
	t.Reset()
	return t
}

// Reset captures the current instant as the new reference point.
func (t *Timer) Reset() *Timer {
	t.start = time.Now()
	return t
}

// Elapsed returns the seconds elapsed since the last Reset.
func (t *Timer) Elapsed() float64 {
	return time.Since(t.start).Seconds()
}
