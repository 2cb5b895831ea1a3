package synchronizer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	var gen UUIDv7Generator
	a, b := gen.Generate(), gen.Generate()

	assert.NotEqual(t, a, b)
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, a, 36)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("gen-1", "gen-2")
	assert.Equal(t, "gen-1", gen.Generate())
	assert.Equal(t, "gen-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
