package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/resgraph/internal/fixture"
	"github.com/roach88/resgraph/internal/ir"
)

// Scenario is a sequence of upstream changes, each followed by one
// synchronization round, and the assertions checked after the last round.
type Scenario struct {
	// Name identifies the scenario; golden files are named after it.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Root is the id the synchronized tree is rooted at.
	Root ir.ResourceID `yaml:"root"`

	Rounds []Round `yaml:"rounds"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Round is one batch of upstream writes followed by a refresh.
type Round struct {
	Description string `yaml:"description,omitempty"`

	// Put resources are written upstream before the refresh, in order.
	Put []fixture.Resource `yaml:"put,omitempty"`

	// Delete ids are removed upstream after the puts.
	Delete []ir.ResourceID `yaml:"delete,omitempty"`

	// ExpectError, when set, must be a substring of the refresh error.
	// An empty value means the refresh must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the store after the last round.
type Assertion struct {
	// Type is one of: resources, refcount, traverse, kv, generation
	Type string `yaml:"type"`

	// ID is the resource for refcount and kv.
	ID ir.ResourceID `yaml:"id,omitempty"`

	// IDs is the exact resource set for resources.
	IDs []ir.ResourceID `yaml:"ids,omitempty"`

	// Count is the expected reference count.
	Count int `yaml:"count,omitempty"`

	// Path is the field path for traverse, starting at the root.
	Path []string `yaml:"path,omitempty"`

	// Data, Error and Absent are the traverse outcomes; exactly one is set.
	Data   string `yaml:"data,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Absent bool   `yaml:"absent,omitempty"`

	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`
}

// Assertion types.
const (
	AssertResources  = "resources"
	AssertRefCount   = "refcount"
	AssertTraverse   = "traverse"
	AssertKeyValue   = "kv"
	AssertGeneration = "generation"
)

// LoadScenario loads and validates a scenario from a YAML file.
//
// Returns error if:
//   - File cannot be read
//   - YAML is malformed or carries unknown fields
//   - Validation fails
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Root.IsNull() {
		return fmt.Errorf("root is required")
	}

	if len(s.Rounds) == 0 {
		return fmt.Errorf("rounds list is required and must be non-empty")
	}

	for i, r := range s.Rounds {
		for j, res := range r.Put {
			if err := res.Validate(); err != nil {
				return fmt.Errorf("rounds[%d].put[%d]: %w", i, j, err)
			}
		}
		for j, id := range r.Delete {
			if id.IsNull() {
				return fmt.Errorf("rounds[%d].delete[%d]: id is required", i, j)
			}
		}
	}

	// A scenario ending on a failed round would leave the store state
	// depending on whether the rebuild already happened.
	if last := s.Rounds[len(s.Rounds)-1]; last.ExpectError != "" {
		return fmt.Errorf("rounds[%d]: last round must not expect an error", len(s.Rounds)-1)
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertResources:
		if len(a.IDs) == 0 {
			return fmt.Errorf("resources requires ids")
		}
	case AssertRefCount:
		if a.ID.IsNull() {
			return fmt.Errorf("refcount requires id")
		}
	case AssertTraverse:
		set := 0
		if a.Data != "" {
			set++
		}
		if a.Error != "" {
			set++
		}
		if a.Absent {
			set++
		}
		if set != 1 {
			return fmt.Errorf("traverse requires exactly one of data, error or absent")
		}
	case AssertKeyValue:
		if a.ID.IsNull() || a.Key == "" {
			return fmt.Errorf("kv requires id and key")
		}
	case AssertGeneration:
		if a.Value == "" {
			return fmt.Errorf("generation requires value")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
