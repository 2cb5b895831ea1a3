package tree

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
)

// StateProvider resolves the store an Entry reads from. The synchronizer
// implements it so entries survive store rebuilds.
type StateProvider interface {
	TreeState() (*State, error)
}

// Entry is the persistable handle on a resource: a provider plus an id.
// Unlike Node it may be kept across recomputation passes.
type Entry struct {
	provider StateProvider
	id       ir.ResourceID
}

// NewEntry creates a handle on id resolved through p.
func NewEntry(p StateProvider, id ir.ResourceID) Entry {
	return Entry{provider: p, id: id}
}

// ID returns the resource id of the handle.
func (e Entry) ID() ir.ResourceID { return e.id }

// String renders the handle as "[ENTRY:rid:N]".
func (e Entry) String() string {
	return "[ENTRY:" + e.id.String() + "]"
}

// MarshalJSON encodes the handle as its string form.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// ResourceOps configures how a node is resolved.
type ResourceOps struct {
	// IgnoreError resolves the node even if the resource carries an error.
	// Otherwise the error is returned as a *ResourceError.
	IgnoreError bool

	// AssertResourceType, when non-empty, requires the resource type to be
	// one of the listed types.
	AssertResourceType []ir.ResourceType
}

// Node resolves the handle to a node bound to ctx. A resource that is not
// in the store yet returns (nil, nil) and marks ctx unstable.
func (e Entry) Node(ctx reactive.Ctx, ops ResourceOps) (*Node, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("entry %s has no state provider", e.id)
	}
	s, err := e.provider.TreeState()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkValidLocked(); err != nil {
		return nil, err
	}
	res, ok := s.lookupLocked(ctx.Watcher(), e.id)
	if !ok {
		ctx.MarkUnstable("resource_not_found:" + e.id.String())
		return nil, nil
	}
	n := &Node{state: s, provider: e.provider, res: res, ctx: ctx}
	if err := n.applyOpsLocked(ops); err != nil {
		return nil, err
	}
	return n, nil
}

// Node is an ephemeral view on a cached resource bound to the watcher of
// one recomputation pass. Every read attaches the pass to the signals that
// can change its answer. A Node must not be kept past its pass.
type Node struct {
	state    *State
	provider StateProvider
	res      *Resource
	ctx      reactive.Ctx
}

// ValueAndError is the content of a field: either side may be nil.
type ValueAndError struct {
	Value *Node
	Error *Node
}

func (n *Node) lock() error {
	n.state.mu.RLock()
	if err := n.state.checkValidLocked(); err != nil {
		n.state.mu.RUnlock()
		return err
	}
	return nil
}

func (n *Node) unlock() { n.state.mu.RUnlock() }

func (n *Node) watcher() reactive.Watcher { return n.ctx.Watcher() }

// childLocked resolves a referenced id to a node.
func (n *Node) childLocked(id ir.ResourceID, ops ResourceOps) (*Node, error) {
	res, ok := n.state.lookupLocked(n.watcher(), id)
	if !ok {
		return nil, &TraversalError{
			Code:       ErrCodeResourceNotFound,
			ResourceID: n.res.id,
			Message:    fmt.Sprintf("referenced resource %s not found in the tree", id),
		}
	}
	child := &Node{state: n.state, provider: n.provider, res: res, ctx: n.ctx}
	if err := child.applyOpsLocked(ops); err != nil {
		return nil, err
	}
	return child, nil
}

func (n *Node) applyOpsLocked(ops ResourceOps) error {
	if !ops.IgnoreError {
		errNode, err := n.errorLocked(false)
		if err != nil {
			return err
		}
		if errNode != nil {
			return &ResourceError{
				ErrorID: errNode.res.id,
				Source:  n.res.id,
				Message: errNode.res.dataAsString(),
			}
		}
	}
	if len(ops.AssertResourceType) > 0 {
		for _, t := range ops.AssertResourceType {
			if n.res.typ == t {
				return nil
			}
		}
		return &TraversalError{
			Code:       ErrCodeResourceTypeMismatch,
			ResourceID: n.res.id,
			Message:    fmt.Sprintf("resource type %s is not one of %v", n.res.typ, ops.AssertResourceType),
		}
	}
	return nil
}

// ID returns the resource id.
func (n *Node) ID() ir.ResourceID { return n.res.id }

// OriginalID returns the id of the resource this one duplicates.
func (n *Node) OriginalID() ir.ResourceID { return n.res.originalID }

// ResourceType returns the resource type.
func (n *Node) ResourceType() ir.ResourceType { return n.res.typ }

// Kind returns the resource kind.
func (n *Node) Kind() ir.ResourceKind { return n.res.kind }

// Persist converts the node back into a persistable handle.
func (n *Node) Persist() Entry { return NewEntry(n.provider, n.res.id) }

// Field looks up one field of the resource. A nil result means the field
// is absent; see FieldStep for the lookup options.
func (n *Node) Field(step FieldStep) (*ValueAndError, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	return n.fieldLocked(step)
}

func (n *Node) fieldLocked(step FieldStep) (*ValueAndError, error) {
	value, errorID, ok, err := n.lookupFieldLocked(step)
	if err != nil || !ok {
		return nil, err
	}
	ve := &ValueAndError{}
	childOps := ResourceOps{IgnoreError: true}
	if !value.IsNull() {
		if ve.Value, err = n.childLocked(value, childOps); err != nil {
			return nil, err
		}
	}
	if !errorID.IsNull() {
		if ve.Error, err = n.childLocked(errorID, childOps); err != nil {
			return nil, err
		}
	}
	return ve, nil
}

// lookupFieldLocked reports the field slots and whether the field exists.
func (n *Node) lookupFieldLocked(step FieldStep) (value, errorID ir.ResourceID, found bool, err error) {
	res := n.res
	w := n.watcher()

	f, ok := res.fields[step.Field]
	if !ok {
		if step.ErrorIfFieldNotFound || step.ErrorIfFieldNotSet {
			return 0, 0, false, &TraversalError{
				Code:       ErrCodeFieldNotFound,
				ResourceID: res.id,
				Field:      step.Field,
				Message:    "field not found",
			}
		}

		if !res.inputsLocked {
			res.inputFieldsChanged.AttachWatcher(w)
		} else if step.AssertFieldType.IsInputOrService() {
			if step.AllowPermanentAbsence {
				return 0, 0, false, nil
			}
			return 0, 0, false, &TraversalError{
				Code:       ErrCodeFieldNotFound,
				ResourceID: res.id,
				Field:      step.Field,
				Message:    "service or input field not found",
			}
		}

		if !res.outputsLocked {
			res.outputFieldsChanged.AttachWatcher(w)
		} else if step.AssertFieldType == ir.FieldTypeOutput {
			if step.AllowPermanentAbsence {
				return 0, 0, false, nil
			}
			return 0, 0, false, &TraversalError{
				Code:       ErrCodeFieldNotFound,
				ResourceID: res.id,
				Field:      step.Field,
				Message:    "output field not found",
			}
		}

		res.dynamicFieldsChanged.AttachWatcher(w)
		if !res.final && !step.StableIfNotFound {
			n.ctx.MarkUnstable("field_not_found:" + step.Field)
		}
		return 0, 0, false, nil
	}

	if step.AssertFieldType != "" && f.typ != step.AssertFieldType {
		return 0, 0, false, &TraversalError{
			Code:       ErrCodeFieldTypeMismatch,
			ResourceID: res.id,
			Field:      step.Field,
			Message:    fmt.Sprintf("unexpected field type: expected %s but got %s", step.AssertFieldType, f.typ),
		}
	}

	f.change.AttachWatcher(w)
	if f.value.IsNull() && f.errorID.IsNull() {
		if step.ErrorIfFieldNotSet {
			return 0, 0, false, &TraversalError{
				Code:       ErrCodeFieldNotSet,
				ResourceID: res.id,
				Field:      step.Field,
				Message:    "field has neither value nor error",
			}
		}
		if !res.final {
			n.ctx.MarkUnstable("field_not_resolved:" + step.Field)
		}
	}
	return f.value, f.errorID, true, nil
}

// IsInputsLocked reports the input field list lock. While false the pass is
// unstable and watches the lock signal.
func (n *Node) IsInputsLocked() (bool, error) {
	if err := n.lock(); err != nil {
		return false, err
	}
	defer n.unlock()
	return n.inputsLockedLocked(), nil
}

func (n *Node) inputsLockedLocked() bool {
	if n.res.inputsLocked {
		return true
	}
	n.res.lockedChanged.AttachWatcher(n.watcher())
	n.ctx.MarkUnstable("inputs_unlocked:" + n.res.typ.String())
	return false
}

// IsOutputsLocked reports the output field list lock.
func (n *Node) IsOutputsLocked() (bool, error) {
	if err := n.lock(); err != nil {
		return false, err
	}
	defer n.unlock()
	return n.outputsLockedLocked(), nil
}

func (n *Node) outputsLockedLocked() bool {
	if n.res.outputsLocked {
		return true
	}
	n.res.lockedChanged.AttachWatcher(n.watcher())
	n.ctx.MarkUnstable("outputs_unlocked:" + n.res.typ.String())
	return false
}

// IsReadyOrError reports whether the resource is ready, errored or a proven
// duplicate.
func (n *Node) IsReadyOrError() (bool, error) {
	if err := n.lock(); err != nil {
		return false, err
	}
	defer n.unlock()
	return n.readyOrErrorLocked(), nil
}

func (n *Node) readyOrErrorLocked() bool {
	if n.res.isReadyOrError() {
		return true
	}
	n.res.stateChanged.AttachWatcher(n.watcher())
	n.ctx.MarkUnstable("not_ready:" + n.res.typ.String())
	return false
}

// IsFinal reports whether the cache stopped tracking the resource.
func (n *Node) IsFinal() (bool, error) {
	if err := n.lock(); err != nil {
		return false, err
	}
	defer n.unlock()
	if !n.res.final {
		n.res.finalChanged.AttachWatcher(n.watcher())
	}
	return n.res.final, nil
}

// Error returns the node of the resource error, or nil. While the resource
// is neither ready nor errored a nil answer is unstable.
func (n *Node) Error() (*Node, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	return n.errorLocked(true)
}

func (n *Node) errorLocked(unstableIfNotReady bool) (*Node, error) {
	if n.res.errorID.IsNull() {
		if !n.res.final {
			n.res.stateChanged.AttachWatcher(n.watcher())
			if unstableIfNotReady && !n.res.isReadyOrError() {
				n.ctx.MarkUnstable("not_ready:" + n.res.typ.String())
			}
		}
		return nil, nil
	}
	return n.childLocked(n.res.errorID, ResourceOps{IgnoreError: true})
}

// Data returns the raw payload. The slice must not be modified.
func (n *Node) Data() ([]byte, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	return n.res.data, nil
}

// DataAsString returns the payload as a string.
func (n *Node) DataAsString() (string, error) {
	if err := n.lock(); err != nil {
		return "", err
	}
	defer n.unlock()
	return n.res.dataAsString(), nil
}

// DataAsJSON returns the payload decoded as generic JSON. An empty payload
// decodes to nil.
func (n *Node) DataAsJSON() (any, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	v, err := n.res.dataAsJSON()
	if err != nil {
		return nil, fmt.Errorf("decode data of %s: %w", n.res.id, err)
	}
	return v, nil
}

// DecodeData unmarshals the JSON payload into out.
func (n *Node) DecodeData(out any) error {
	if err := n.lock(); err != nil {
		return err
	}
	defer n.unlock()
	if err := json.Unmarshal(n.res.data, out); err != nil {
		return fmt.Errorf("decode data of %s: %w", n.res.id, err)
	}
	return nil
}

// ListInputFields returns the names of Input and Service fields. While the
// list is unlocked the pass watches it for additions but stays stable.
func (n *Node) ListInputFields() ([]string, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	if !n.res.inputsLocked {
		n.res.inputFieldsChanged.AttachWatcher(n.watcher())
	}
	return n.fieldNamesLocked(ir.FieldType.IsInputOrService), nil
}

// ListOutputFields returns the names of Output fields.
func (n *Node) ListOutputFields() ([]string, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	if !n.res.outputsLocked {
		n.res.outputFieldsChanged.AttachWatcher(n.watcher())
	}
	return n.fieldNamesLocked(func(t ir.FieldType) bool { return t == ir.FieldTypeOutput }), nil
}

// ListDynamicFields returns the names of Dynamic fields.
func (n *Node) ListDynamicFields() ([]string, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.unlock()
	n.res.dynamicFieldsChanged.AttachWatcher(n.watcher())
	return n.fieldNamesLocked(func(t ir.FieldType) bool { return t == ir.FieldTypeDynamic }), nil
}

func (n *Node) fieldNamesLocked(match func(ir.FieldType) bool) []string {
	names := make([]string, 0, len(n.res.fields))
	for name, f := range n.res.fields {
		if match(f.typ) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// KeyValue returns the value stored under key and whether the key exists.
// With unstableIfNotFound a missing key marks the pass unstable.
func (n *Node) KeyValue(key string, unstableIfNotFound bool) ([]byte, bool, error) {
	if err := n.lock(); err != nil {
		return nil, false, err
	}
	defer n.unlock()
	n.res.kvChanged.AttachWatcher(n.watcher())
	v, ok := n.res.kv[key]
	if !ok && unstableIfNotFound {
		n.ctx.MarkUnstable("key_not_found:" + key)
	}
	return v, ok, nil
}

// KeyValueAsString returns the value under key as a string.
func (n *Node) KeyValueAsString(key string, unstableIfNotFound bool) (string, bool, error) {
	v, ok, err := n.KeyValue(key, unstableIfNotFound)
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), true, nil
}

// KeyValueAsJSON unmarshals the value under key into out and reports
// whether the key exists.
func (n *Node) KeyValueAsJSON(key string, out any, unstableIfNotFound bool) (bool, error) {
	v, ok, err := n.KeyValue(key, unstableIfNotFound)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return true, fmt.Errorf("decode key %q of %s: %w", key, n.res.id, err)
	}
	return true, nil
}
