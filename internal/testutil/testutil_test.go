package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/ir"
)

func TestIDAllocator_Sequence(t *testing.T) {
	a := NewIDAllocator()
	assert.Equal(t, ir.NullResourceID, a.Current())
	assert.Equal(t, ir.ResourceID(1), a.Next())
	assert.Equal(t, ir.ResourceID(2), a.Next())
	assert.Equal(t, ir.ResourceID(2), a.Current())

	a.Reset()
	assert.Equal(t, ir.ResourceID(1), a.Next())
}

func TestIDAllocator_ThreadSafe(t *testing.T) {
	a := NewIDAllocator()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, ir.ResourceID(1000), a.Current())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("")
	assert.Equal(t, "test-gen-1", g.Generate())
	assert.Equal(t, "test-gen-2", g.Generate())

	custom := NewSequenceGenerator("store")
	assert.Equal(t, "store-1", custom.Generate())
}

func TestResourceBuilder(t *testing.T) {
	b := Res(1).Input("a", 2).Dynamic("d", 0).Locked().Ready().KV("k", "v")
	rd := b.Build()

	assert.Equal(t, ir.ResourceID(1), rd.ID)
	assert.Equal(t, ir.KindStructural, rd.Kind)
	assert.True(t, rd.InputsLocked)
	assert.True(t, rd.OutputsLocked)
	assert.True(t, rd.ResourceReady)
	require.Len(t, rd.Fields, 2)
	assert.Equal(t, ir.FieldData{Name: "a", Type: ir.FieldTypeInput, Value: 2}, rd.Fields[0])
	assert.Equal(t, []ir.KeyValue{{Key: "k", Value: []byte("v")}}, rd.KV)

	// Builds are independent copies.
	rd.Fields[0].Value = 9
	assert.Equal(t, ir.ResourceID(2), b.Build().Fields[0].Value)
}

func TestVal(t *testing.T) {
	rd := Val(5, "hi!").Build()
	assert.Equal(t, ir.KindValue, rd.Kind)
	assert.Equal(t, []byte("hi!"), rd.Data)
	assert.True(t, rd.ResourceReady)
	assert.True(t, rd.InputsLocked)
}
