package synchronizer

import (
	"sync"

	"github.com/google/uuid"
)

// GenerationIDGenerator names store instances. Every rebuild of the cache
// store gets a fresh generation id.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type GenerationIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 generation ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so rebuilds sort
// by creation time in logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined generation ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, which catches a test that rebuilt
// the store more often than expected.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all generation ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
