package fixture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
	"github.com/roach88/resgraph/internal/remote/memgraph"
	"github.com/roach88/resgraph/internal/tree"
	"github.com/roach88/resgraph/internal/treeload"
)

func testdata(name string) string {
	return filepath.Join("testdata", name)
}

func TestLoad_YAML(t *testing.T) {
	f, err := Load(testdata("pipeline.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "pipeline", f.Name)
	assert.Equal(t, ir.ResourceID(1), f.Root)
	require.Len(t, f.Resources, 4)

	rds := f.ResourceData()
	root := rds[0]
	assert.Equal(t, ir.KindStructural, root.Kind)
	assert.Equal(t, ir.ResourceType{Name: "Pipeline", Version: "1"}, root.Type)
	assert.True(t, root.InputsLocked)
	assert.False(t, root.OutputsLocked)
	assert.Equal(t, []ir.FieldData{
		{Name: "spec", Type: ir.FieldTypeInput, Value: 2},
		{Name: "result", Type: ir.FieldTypeOutput, Error: 4},
		{Name: "step", Type: ir.FieldTypeDynamic, Value: 3},
	}, root.Fields)
	assert.Equal(t, []ir.KeyValue{
		{Key: "label", Value: []byte("nightly")},
		{Key: "owner", Value: []byte("ci")},
	}, root.KV)

	assert.Equal(t, ir.KindValue, rds[1].Kind)
	assert.Equal(t, []byte(`{"steps":2}`), rds[1].Data)
	assert.True(t, rds[1].Final)

	assert.Equal(t, ir.ResourceType{Name: "Step", Version: "1"}, rds[2].Type)
	assert.Equal(t, ir.ResourceID(2), rds[2].OriginalResourceID)
	assert.Nil(t, rds[2].Data)
}

func TestLoad_CUEMatchesYAML(t *testing.T) {
	fromYAML, err := Load(testdata("pipeline.yaml"))
	require.NoError(t, err)
	fromCUE, err := Load(testdata("pipeline.cue"))
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Name, fromCUE.Name)
	assert.Equal(t, fromYAML.Description, fromCUE.Description)
	assert.Equal(t, fromYAML.Root, fromCUE.Root)
	assert.Equal(t, fromYAML.ResourceData(), fromCUE.ResourceData())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{"unknown yaml key", "unknown_key.yaml", "failed to parse YAML"},
		{"cue schema violation", "bad_type.cue", "invalid fixture"},
		{"unsupported extension", "notes.txt", `unsupported fixture format ".txt"`},
		{"missing file", "nope.yaml", "failed to read fixture file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(testdata(tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseCUE_SyntaxError(t *testing.T) {
	_, err := ParseCUE([]byte(`name: "x" root: `), "broken.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse CUE")
}

func TestValidate(t *testing.T) {
	base := func() *Fixture {
		return &Fixture{
			Name: "v",
			Root: 1,
			Resources: []Resource{
				{ID: 1, Type: "Test:1", Fields: []Field{{Name: "a", Type: ir.FieldTypeInput, Value: 2}}},
				{ID: 2, Type: "Test:1"},
			},
		}
	}
	require.NoError(t, Validate(base()))

	tests := []struct {
		name    string
		mutate  func(f *Fixture)
		wantErr string
	}{
		{"missing name", func(f *Fixture) { f.Name = "" }, "name is required"},
		{"missing root", func(f *Fixture) { f.Root = 0 }, "root is required"},
		{"no resources", func(f *Fixture) { f.Resources = nil }, "must be non-empty"},
		{"null id", func(f *Fixture) { f.Resources[1].ID = 0 }, "resources[1]: id is required"},
		{"duplicate id", func(f *Fixture) { f.Resources[1].ID = 1 }, "duplicate id rid:1"},
		{"undeclared root", func(f *Fixture) { f.Root = 9 }, "root rid:9 is not declared"},
		{"bad type", func(f *Fixture) { f.Resources[1].Type = ":1" }, "empty name"},
		{"bad kind", func(f *Fixture) { f.Resources[1].Kind = "Liquid" }, `invalid kind "Liquid"`},
		{"bad field type", func(f *Fixture) { f.Resources[0].Fields[0].Type = "Sideways" }, `invalid type "Sideways"`},
		{"duplicate field", func(f *Fixture) {
			f.Resources[0].Fields = append(f.Resources[0].Fields, Field{Name: "a", Type: ir.FieldTypeDynamic})
		}, `duplicate field "a"`},
		{"dangling reference", func(f *Fixture) { f.Resources[1].Error = 7 }, "undeclared resource rid:7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base()
			tt.mutate(f)
			err := Validate(f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApply_LoadsIntoTreeState(t *testing.T) {
	f, err := Load(testdata("pipeline.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	g := memgraph.New()
	require.NoError(t, Apply(ctx, g, f))
	assert.Equal(t, 4, g.Len())

	state := tree.New(f.Root)
	req, err := treeload.BuildRequest(state, nil)
	require.NoError(t, err)
	patch, stats, err := treeload.Load(ctx, g, req)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Loaded)
	require.NoError(t, state.UpdateFromResourceData(patch, false))

	node, err := state.RootEntry().Node(reactive.NewPass(), tree.ResourceOps{})
	require.NoError(t, err)
	require.NotNil(t, node)

	ve, err := node.Traverse(tree.TraverseOptions{}, tree.F("result"))
	require.NoError(t, err)
	require.NotNil(t, ve)
	require.NotNil(t, ve.Error)
	msg, err := ve.Error.DataAsString()
	require.NoError(t, err)
	assert.Equal(t, "step failed", msg)

	label, found, err := node.KeyValueAsString("label", false)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "nightly", label)
}

type failingSink struct{ err error }

func (s failingSink) PutResource(context.Context, ir.ExtendedResourceData) error { return s.err }
func (s failingSink) DeleteResource(context.Context, ir.ResourceID) error        { return s.err }

func TestApply_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	f, err := Load(testdata("pipeline.yaml"))
	require.NoError(t, err)

	err = Apply(context.Background(), failingSink{err: boom}, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "apply resource rid:1")
}
