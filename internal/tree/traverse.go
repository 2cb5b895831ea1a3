package tree

import "github.com/roach88/resgraph/internal/ir"

// FieldStep describes one field lookup.
//
// A missing field is looked up as follows:
//   - ErrorIfFieldNotFound or ErrorIfFieldNotSet: fail right away
//   - while the matching field list is unlocked the lookup watches the list
//     and the pass is unstable unless StableIfNotFound is set
//   - once the list of the asserted Input/Service or Output type is locked
//     the field is provably absent: this fails unless AllowPermanentAbsence
//     is set, in which case the absence is stable
type FieldStep struct {
	Field string

	// AssertFieldType, when set, requires the field to be of this type.
	AssertFieldType ir.FieldType

	ErrorIfFieldNotFound bool

	// ErrorIfFieldNotSet also fails for an existing field that has neither
	// value nor error yet.
	ErrorIfFieldNotSet bool

	StableIfNotFound      bool
	AllowPermanentAbsence bool

	// Per-step traversal options, combined with the traversal-wide ones.
	StopOnResourceError bool
	StopOnFieldError    bool
}

// F is shorthand for a step with no options.
func F(name string) FieldStep { return FieldStep{Field: name} }

// Path converts field names to steps with no options.
func Path(names ...string) []FieldStep {
	steps := make([]FieldStep, len(names))
	for i, name := range names {
		steps[i] = F(name)
	}
	return steps
}

// TraverseOptions apply to every step of a traversal.
type TraverseOptions struct {
	// StopOnResourceError returns the error of the current resource instead
	// of descending into its field.
	StopOnResourceError bool

	// StopOnFieldError returns the error of a field instead of continuing
	// with its value.
	StopOnFieldError bool

	ErrorIfFieldNotFound bool
}

func (o TraverseOptions) merge(step FieldStep) FieldStep {
	step.StopOnResourceError = step.StopOnResourceError || o.StopOnResourceError
	step.StopOnFieldError = step.StopOnFieldError || o.StopOnFieldError
	step.ErrorIfFieldNotFound = step.ErrorIfFieldNotFound || o.ErrorIfFieldNotFound
	return step
}

// Traverse follows steps from this node. It returns nil as soon as a step
// has no value. With the stop options an error reached on the way is
// returned as the Error side of the result.
func (n *Node) Traverse(opts TraverseOptions, steps ...FieldStep) (*ValueAndError, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	return n.traverseLocked(opts, steps)
}

func (n *Node) traverseLocked(opts TraverseOptions, steps []FieldStep) (*ValueAndError, error) {
	current := &ValueAndError{Value: n}
	for _, step := range steps {
		step = opts.merge(step)
		if current == nil || current.Value == nil {
			return nil, nil
		}
		node := current.Value

		if step.StopOnResourceError {
			errNode, err := node.errorLocked(false)
			if err != nil {
				return nil, err
			}
			if errNode != nil {
				return &ValueAndError{Error: errNode}, nil
			}
		}

		next, err := node.fieldLocked(step)
		if err != nil {
			return nil, err
		}
		if step.StopOnFieldError && next != nil && next.Error != nil {
			return &ValueAndError{Error: next.Error}, nil
		}
		current = next
	}
	return current, nil
}

// TraverseOrError follows steps and stops at the first resource or field
// error, which is returned as a *ResourceError. A nil node means the path
// is absent.
func (n *Node) TraverseOrError(steps ...FieldStep) (*Node, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()

	node := n
	for _, step := range steps {
		errNode, err := node.errorLocked(false)
		if err != nil {
			return nil, err
		}
		if errNode != nil {
			return nil, &ResourceError{
				ErrorID: errNode.res.id,
				Source:  node.res.id,
				Message: errNode.res.dataAsString(),
			}
		}

		ve, err := node.fieldLocked(step)
		if err != nil {
			return nil, err
		}
		if ve == nil {
			return nil, nil
		}
		if ve.Error != nil {
			return nil, &ResourceError{
				ErrorID: ve.Error.res.id,
				Source:  node.res.id,
				Field:   step.Field,
				Message: ve.Error.res.dataAsString(),
			}
		}
		if ve.Value == nil {
			return nil, nil
		}
		node = ve.Value
	}
	return node, nil
}
