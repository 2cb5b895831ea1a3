package treeload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/ir"
)

func TestPendingQueue_FIFO(t *testing.T) {
	q := newPendingQueue()
	for i := 1; i <= 3; i++ {
		f := newFuture()
		f <- fetchResult{id: ir.ResourceID(i)}
		q.push(f)
	}
	assert.Equal(t, 3, q.len())

	for i := 1; i <= 3; i++ {
		f, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, ir.ResourceID(i), (<-f).id)
	}
	_, ok := q.pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.len())
}

func TestPendingQueue_CompactsConsumedPrefix(t *testing.T) {
	q := newPendingQueue()
	for i := 0; i < 3000; i++ {
		q.push(newFuture())
	}
	for i := 0; i < 2000; i++ {
		_, ok := q.pop()
		require.True(t, ok)
	}
	assert.Equal(t, 1000, q.len())
	assert.Less(t, q.head, 1100)
}
