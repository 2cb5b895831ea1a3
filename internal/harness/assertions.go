package harness

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
	"github.com/roach88/resgraph/internal/synchronizer"
	"github.com/roach88/resgraph/internal/tree"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []RoundEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		if event.Error != "" {
			fmt.Fprintf(&buf, "  [%d] %s error: %s\n", event.Round, event.Generation, event.Error)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s resources=%d\n", event.Round, event.Generation, len(event.Resources))
	}

	return buf.String()
}

// Source is the store an assertion is evaluated against. The synchronizer
// satisfies it.
type Source interface {
	TreeState() (*tree.State, error)
	Generation() string
}

var _ Source = (*synchronizer.Synchronizer)(nil)

// EvaluateAssertions checks every assertion against src and returns the
// failures in order.
func EvaluateAssertions(src Source, assertions []Assertion, trace []RoundEvent) []error {
	var errs []error
	for _, a := range assertions {
		if err := evaluate(src, a, trace); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func evaluate(src Source, a Assertion, trace []RoundEvent) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
	}

	if a.Type == AssertGeneration {
		if got := src.Generation(); got != a.Value {
			return fail("generation "+a.Value, "generation "+got)
		}
		return nil
	}

	state, err := src.TreeState()
	if err != nil {
		return fail("a readable store", err.Error())
	}

	switch a.Type {
	case AssertResources:
		return assertResources(state, a, fail)
	case AssertRefCount:
		return assertRefCount(state, a, fail)
	case AssertTraverse:
		return assertTraverse(state, a, fail)
	case AssertKeyValue:
		return assertKeyValue(state, a, fail)
	default:
		return fail("known assertion type", fmt.Sprintf("%q", a.Type))
	}
}

type failFunc func(expected, actual string) error

func assertResources(state *tree.State, a Assertion, fail failFunc) error {
	var got []ir.ResourceID
	if err := state.ForEachResource(func(r tree.ResourceView) {
		got = append(got, r.ID())
	}); err != nil {
		return fail("a readable store", err.Error())
	}
	want := slices.Clone(a.IDs)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return fail(fmt.Sprintf("resources %v", want), fmt.Sprintf("resources %v", got))
	}
	return nil
}

func assertRefCount(state *tree.State, a Assertion, fail failFunc) error {
	count, found := -1, false
	if err := state.ForEachResource(func(r tree.ResourceView) {
		if r.ID() == a.ID {
			count, found = r.RefCount(), true
		}
	}); err != nil {
		return fail("a readable store", err.Error())
	}
	if !found {
		return fail(fmt.Sprintf("%s with refcount %d", a.ID, a.Count), "not in store")
	}
	if count != a.Count {
		return fail(fmt.Sprintf("%s with refcount %d", a.ID, a.Count), fmt.Sprintf("refcount %d", count))
	}
	return nil
}

func assertTraverse(state *tree.State, a Assertion, fail failFunc) error {
	path := strings.Join(a.Path, "/")
	expected := fmt.Sprintf("%s resolves to %q", path, a.Data)
	switch {
	case a.Absent:
		expected = path + " is absent"
	case a.Error != "":
		expected = fmt.Sprintf("%s reaches error %q", path, a.Error)
	}

	root, err := state.RootEntry().Node(reactive.NewPass(), tree.ResourceOps{IgnoreError: true})
	if err != nil {
		return fail(expected, err.Error())
	}
	if root == nil {
		if a.Absent {
			return nil
		}
		return fail(expected, "root not in store")
	}

	target, err := root.TraverseOrError(tree.Path(a.Path...)...)
	var re *tree.ResourceError
	switch {
	case errors.As(err, &re):
		if a.Error != "" && re.Message == a.Error {
			return nil
		}
		return fail(expected, fmt.Sprintf("error %q", re.Message))
	case err != nil:
		return fail(expected, err.Error())
	case target == nil:
		if a.Absent {
			return nil
		}
		return fail(expected, "absent")
	}

	data, err := target.DataAsString()
	if err != nil {
		return fail(expected, err.Error())
	}
	if a.Data == "" || data != a.Data {
		return fail(expected, fmt.Sprintf("data %q", data))
	}
	return nil
}

func assertKeyValue(state *tree.State, a Assertion, fail failFunc) error {
	expected := fmt.Sprintf("%s has %s=%q", a.ID, a.Key, a.Value)
	node, err := state.Entry(a.ID).Node(reactive.NewPass(), tree.ResourceOps{IgnoreError: true})
	if err != nil {
		return fail(expected, err.Error())
	}
	if node == nil {
		return fail(expected, "not in store")
	}
	value, found, err := node.KeyValueAsString(a.Key, false)
	if err != nil {
		return fail(expected, err.Error())
	}
	if !found {
		return fail(expected, "key not set")
	}
	if value != a.Value {
		return fail(expected, fmt.Sprintf("%s=%q", a.Key, value))
	}
	return nil
}
