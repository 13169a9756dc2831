// Package debounce collapses bursts of events into a single call after a
// quiet period.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs fn once no Trigger has arrived for the configured delay.
//
// Every Trigger or Cancel bumps a sequence number; a timer that fires for an
// older sequence does nothing. fn never runs concurrently with itself from a
// single Debouncer.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	seq     uint64
	pending bool
	fn      func()
	running sync.Mutex
}

// New creates a Debouncer. A non-positive delay still defers fn to a timer
// goroutine.
func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if !d.pending || d.seq != seq || d.fn == nil {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.running.Lock()
	defer d.running.Unlock()
	d.fn()
}

// Flush runs fn now if a call is pending and drops the scheduled one.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	run := d.pending && d.fn != nil
	d.pending = false
	d.mu.Unlock()

	if run {
		d.running.Lock()
		defer d.running.Unlock()
		d.fn()
	}
}

// Cancel drops any pending call. A call already executing is not interrupted.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}
