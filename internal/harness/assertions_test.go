package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/fixture"
	"github.com/roach88/resgraph/internal/ir"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRefCount,
		Expected: "rid:2 with refcount 3",
		Actual:   "refcount 1",
		Trace: []RoundEvent{
			{Round: 1, Generation: "gen-1", Resources: []ResourceSnapshot{{ID: 1}, {ID: 2}}},
			{Round: 2, Generation: "gen-1", Error: "boom"},
		},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: refcount")
	assert.Contains(t, msg, "Expected: rid:2 with refcount 3")
	assert.Contains(t, msg, "Actual: refcount 1")
	assert.Contains(t, msg, "[1] gen-1 resources=2")
	assert.Contains(t, msg, "[2] gen-1 error: boom")
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	root := dynamicRoot(2)
	root.KV = map[string]string{"owner": "ci"}
	scenario := &Scenario{
		Name: "failures",
		Root: 1,
		Rounds: []Round{
			{Put: []fixture.Resource{root, valueResource(2, "x")}},
		},
		Assertions: []Assertion{
			{Type: AssertResources, IDs: []ir.ResourceID{2, 1}},
			{Type: AssertTraverse, Path: []string{"a"}, Data: "x"},
			{Type: AssertKeyValue, ID: 1, Key: "owner", Value: "ci"},
			{Type: AssertGeneration, Value: "gen-1"},

			{Type: AssertResources, IDs: []ir.ResourceID{1}},
			{Type: AssertRefCount, ID: 2, Count: 3},
			{Type: AssertRefCount, ID: 9, Count: 1},
			{Type: AssertTraverse, Path: []string{"a"}, Data: "y"},
			{Type: AssertTraverse, Path: []string{"a"}, Absent: true},
			{Type: AssertKeyValue, ID: 1, Key: "team", Value: "infra"},
			{Type: AssertKeyValue, ID: 1, Key: "owner", Value: "cd"},
			{Type: AssertGeneration, Value: "gen-9"},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 8)

	expected := []string{
		"Actual: resources [rid:1 rid:2]",
		"Actual: refcount 1",
		"Actual: not in store",
		`Actual: data "x"`,
		`Expected: a is absent`,
		"Actual: key not set",
		`Actual: owner="ci"`,
		"Actual: generation gen-1",
	}
	for i, want := range expected {
		assert.Contains(t, result.Errors[i], want)
	}
}

func TestEvaluateAssertions_ErrorPath(t *testing.T) {
	job := fixture.Resource{
		ID:            1,
		Type:          "Job:1",
		InputsLocked:  true,
		OutputsLocked: true,
		Fields:        []fixture.Field{{Name: "result", Type: ir.FieldTypeOutput, Error: 2}},
	}
	scenario := &Scenario{
		Name:   "error_path",
		Root:   1,
		Rounds: []Round{{Put: []fixture.Resource{job, valueResource(2, "step failed")}}},
		Assertions: []Assertion{
			{Type: AssertTraverse, Path: []string{"result"}, Error: "step failed"},
			{Type: AssertTraverse, Path: []string{"result"}, Data: "step failed"},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `Actual: error "step failed"`)
}
