package transcript

import (
	"sync"
	"time"
)

// DefaultDebounce coalesces interim view updates so downstream
// consumers do not repaint on every fragment.
const DefaultDebounce = 200 * time.Millisecond

// UpdateFunc receives a rendered buffer view. final is true when the
// update was produced by a final fragment (or an explicit flush).
type UpdateFunc func(view string, final bool)

// Notifier debounces interim updates on the trailing edge and delivers
// final updates immediately. Safe for concurrent use.
type Notifier struct {
	fn    UpdateFunc
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	armed   bool
	stopped bool
}

// NewNotifier wraps fn with debouncing. A non-positive delay delivers
// interim updates synchronously.
func NewNotifier(delay time.Duration, fn UpdateFunc) *Notifier {
	return &Notifier{fn: fn, delay: delay}
}

// Interim schedules a debounced delivery of view, replacing any
// update already scheduled.
func (n *Notifier) Interim(view string) {
	if n.delay <= 0 {
		n.fn(view, false)
		return
	}
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.pending = view
	if n.armed {
		n.timer.Reset(n.delay)
	} else {
		n.armed = true
		n.timer = time.AfterFunc(n.delay, n.fire)
	}
	n.mu.Unlock()
}

func (n *Notifier) fire() {
	n.mu.Lock()
	if n.stopped || !n.armed {
		n.mu.Unlock()
		return
	}
	view := n.pending
	n.armed = false
	n.mu.Unlock()
	n.fn(view, false)
}

// Final cancels any scheduled interim update and delivers view now.
func (n *Notifier) Final(view string) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.disarm()
	n.mu.Unlock()
	n.fn(view, true)
}

// Flush delivers a scheduled interim update immediately, if any.
func (n *Notifier) Flush() {
	n.mu.Lock()
	if n.stopped || !n.armed {
		n.mu.Unlock()
		return
	}
	view := n.pending
	n.disarm()
	n.mu.Unlock()
	n.fn(view, false)
}

// Stop cancels any scheduled update. No callbacks fire afterwards.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.disarm()
	n.stopped = true
	n.mu.Unlock()
}

func (n *Notifier) disarm() {
	if n.armed {
		n.timer.Stop()
		n.armed = false
	}
}
