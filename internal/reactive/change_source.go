package reactive

import "sync"

// Watcher is notified at most once per attachment.
type Watcher interface {
	MarkChanged(marker string)
}

// Ctx is the ambient context of one recomputation pass.
type Ctx interface {
	// Watcher returns the token to attach to change sources read in this pass.
	Watcher() Watcher

	// MarkUnstable flags the result of this pass as not permanent.
	MarkUnstable(marker string)
}

// ChangeSource fans a change notification out to every attached watcher.
// Watchers are detached once notified and must re-attach to hear about
// further changes.
//
// The zero value is ready to use. A nil *ChangeSource stands for a value
// that will never change: attaching to it is a no-op. Safe for concurrent use.
type ChangeSource struct {
	mu       sync.Mutex
	watchers map[Watcher]struct{}
}

// AttachWatcher registers interest of w in the next change.
func (c *ChangeSource) AttachWatcher(w Watcher) {
	if c == nil || w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		c.watchers = make(map[Watcher]struct{}, 1)
	}
	c.watchers[w] = struct{}{}
}

// MarkChanged notifies and detaches all attached watchers. Watchers are
// called without the internal lock held, so they may re-attach.
func (c *ChangeSource) MarkChanged(marker string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()

	for w := range watchers {
		w.MarkChanged(marker)
	}
}

// WatcherCount returns the number of currently attached watchers.
func (c *ChangeSource) WatcherCount() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers)
}
