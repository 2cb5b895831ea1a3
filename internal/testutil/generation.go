package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates predictable store generation ids:
// "<prefix>-1", "<prefix>-2", ...
//
// This enables deterministic assertions on store rebuilds.
//
// Thread-safety: safe for concurrent use.
type SequenceGenerator struct {
	prefix string

	mu sync.Mutex
	n  int
}

// NewSequenceGenerator creates a generator. An empty prefix defaults to
// "test-gen".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "test-gen"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements synchronizer.GenerationIDGenerator interface.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
