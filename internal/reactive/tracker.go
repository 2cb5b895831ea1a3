package reactive

import "sync"

// Tracker is a one-shot Watcher: it flips to changed on the first
// notification and stays changed.
type Tracker struct {
	mu      sync.Mutex
	changed bool
	marker  string
	done    chan struct{}
}

// NewTracker creates an unchanged tracker.
func NewTracker() *Tracker {
	return &Tracker{done: make(chan struct{})}
}

// MarkChanged implements Watcher.
func (t *Tracker) MarkChanged(marker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.changed {
		return
	}
	t.changed = true
	t.marker = marker
	close(t.done)
}

// Changed reports whether any attached source has changed.
func (t *Tracker) Changed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Marker returns the marker of the first change notification.
func (t *Tracker) Marker() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marker
}

// Done is closed on the first change notification.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Pass is a Ctx for a single recomputation pass.
type Pass struct {
	tracker *Tracker

	mu       sync.Mutex
	unstable []string
}

// NewPass creates a pass with a fresh tracker.
func NewPass() *Pass {
	return &Pass{tracker: NewTracker()}
}

// Watcher implements Ctx.
func (p *Pass) Watcher() Watcher {
	return p.tracker
}

// Tracker returns the underlying tracker.
func (p *Pass) Tracker() *Tracker {
	return p.tracker
}

// MarkUnstable implements Ctx.
func (p *Pass) MarkUnstable(marker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unstable = append(p.unstable, marker)
}

// Stable reports whether no reads in this pass were flagged unstable.
func (p *Pass) Stable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unstable) == 0
}

// UnstableMarkers returns the markers recorded by MarkUnstable, in order.
func (p *Pass) UnstableMarkers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.unstable...)
}
