// Package lifecycle holds the drain state set when the process starts shutting down.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Drain reports whether the process is draining and since when.
// The zero value is not draining.
type Drain struct {
	since atomic.Int64 // unix nanos, 0 when not draining
}

// Begin marks the process as draining. Later calls keep the first timestamp.
func (d *Drain) Begin() {
	d.since.CompareAndSwap(0, time.Now().UnixNano())
}

// Active reports whether Begin was called.
func (d *Drain) Active() bool {
	return d != nil && d.since.Load() != 0
}

// Since returns when draining began, or the zero time.
func (d *Drain) Since() time.Time {
	if !d.Active() {
		return time.Time{}
	}
	return time.Unix(0, d.since.Load())
}
