package reactive

import "sync"

// Result is the outcome of one recomputation.
type Result[T any] struct {
	Value  T
	Err    error
	Stable bool

	// Unstable lists the markers of the reads that made the result unstable.
	Unstable []string
}

// Computable caches the result of fn until one of the change sources read
// during the last pass fires.
//
// Safe for concurrent use; recomputations are serialized.
type Computable[T any] struct {
	fn func(Ctx) (T, error)

	mu     sync.Mutex
	pass   *Pass
	result Result[T]
}

// Make creates a computable over fn. Nothing is computed until Get.
func Make[T any](fn func(Ctx) (T, error)) *Computable[T] {
	return &Computable[T]{fn: fn}
}

// IsChanged reports whether the next Get will recompute.
func (c *Computable[T]) IsChanged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pass == nil || c.pass.tracker.Changed()
}

// Get returns the cached result, recomputing it first if it is stale.
func (c *Computable[T]) Get() Result[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pass != nil && !c.pass.tracker.Changed() {
		return c.result
	}

	pass := NewPass()
	value, err := c.fn(pass)
	c.pass = pass
	c.result = Result[T]{
		Value:    value,
		Err:      err,
		Stable:   pass.Stable(),
		Unstable: pass.UnstableMarkers(),
	}
	return c.result
}

// Changed returns a channel closed when the last computed result becomes
// stale. Before the first Get the returned channel is already closed.
func (c *Computable[T]) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pass == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.pass.tracker.Done()
}
