package app

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once the window has
// passed without another trigger.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer returns a trailing-edge debouncer. A non-positive window
// defaults to 200ms.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = 200 * time.Millisecond
	}
	return &Debouncer{window: window}
}

// Trigger (re)starts the window with fn as the pending call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, fn)
}

// Stop drops any pending call and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
