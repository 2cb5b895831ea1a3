package testutil

import (
	"sync"

	"github.com/roach88/resgraph/internal/ir"
)

// IDAllocator hands out resource ids in increasing order for tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type IDAllocator struct {
	mu   sync.Mutex
	last ir.ResourceID
}

// NewIDAllocator creates an allocator whose first id is rid:1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next unused id.
func (a *IDAllocator) Next() ir.ResourceID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	return a.last
}

// Current returns the last id handed out, or NullResourceID.
func (a *IDAllocator) Current() ir.ResourceID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Reset restarts the sequence. After Reset the next id is rid:1 again.
func (a *IDAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = ir.NullResourceID
}
