package treeload

import "github.com/roach88/resgraph/internal/ir"

// fetchResult is the outcome of one combined resource + kv fetch. A nil
// data with a nil err means the resource no longer exists upstream.
type fetchResult struct {
	id   ir.ResourceID
	data *ir.ExtendedResourceData
	err  error
}

// future is resolved exactly once. Buffered so the fetching goroutine never
// blocks, even if nobody reads the result.
type future chan fetchResult

func newFuture() future {
	return make(future, 1)
}

// pendingQueue is a FIFO of outstanding fetches.
//
// Only the draining goroutine touches it, so it carries no lock. Fetches
// complete in any order; popping in push order keeps the traversal
// breadth-first and its output deterministic.
type pendingQueue struct {
	items []future
	head  int
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{items: make([]future, 0, 64)}
}

func (q *pendingQueue) push(f future) {
	q.items = append(q.items, f)
}

// pop removes the oldest future. ok is false when the queue is empty.
func (q *pendingQueue) pop() (f future, ok bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	f = q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Compact once the consumed prefix dominates.
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}
	return f, true
}

func (q *pendingQueue) len() int {
	return len(q.items) - q.head
}
