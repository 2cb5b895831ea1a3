package tree

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
)

// ResourceView is the read-only view of a cached resource handed to final
// predicates and ForEachResource callbacks. Reading it attaches no watchers.
type ResourceView interface {
	ID() ir.ResourceID
	OriginalID() ir.ResourceID
	Kind() ir.ResourceKind
	Type() ir.ResourceType
	ErrorID() ir.ResourceID
	InputsLocked() bool
	OutputsLocked() bool
	Ready() bool
	ServerFinal() bool
	Final() bool
	RefCount() int
	Fields() []ir.FieldData
}

// FinalPredicate decides whether a resource will never change again.
type FinalPredicate func(r ResourceView) bool

// NeverFinal is the default predicate: every resource keeps being refetched.
func NeverFinal(ResourceView) bool { return false }

// ServerFinalPredicate trusts the final flag derived by the server.
func ServerFinalPredicate(r ResourceView) bool { return r.ServerFinal() }

// State is the resource cache store for one tree.
//
// Thread-safety model:
//   - UpdateFromResourceData and Invalidate take the write lock; change
//     signals collected during the round fire after it is released, so a
//     patch round is atomic from the point of view of readers
//   - accessor reads take the read lock for the duration of one call
//
// INVARIANTS:
//   - ready implies inputsLocked
//   - locks, error, original id and ready never revert
//   - a non-root resource with a zero refcount is not in the store
//   - once invalid, the store stays invalid
type State struct {
	root           ir.ResourceID
	finalPredicate FinalPredicate
	logger         *slog.Logger

	mu         sync.RWMutex
	resources  map[ir.ResourceID]*Resource
	valid      bool
	invalidMsg string

	resourcesAdded *reactive.ChangeSource
}

// Option configures a State.
type Option func(*State)

// WithFinalPredicate sets the predicate that marks resources final.
//
// Default: NeverFinal
func WithFinalPredicate(p FinalPredicate) Option {
	return func(s *State) {
		if p != nil {
			s.finalPredicate = p
		}
	}
}

// WithLogger sets the logger used to report rejected patches.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty, valid store rooted at root.
func New(root ir.ResourceID, opts ...Option) *State {
	s := &State{
		root:           root,
		finalPredicate: NeverFinal,
		logger:         slog.Default(),
		resources:      make(map[ir.ResourceID]*Resource),
		valid:          true,
		resourcesAdded: &reactive.ChangeSource{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the root id. The root is never evicted.
func (s *State) Root() ir.ResourceID { return s.root }

// IsValid reports whether the store is still usable.
func (s *State) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Len returns the number of resources in the store.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resources)
}

// TreeState implements StateProvider.
func (s *State) TreeState() (*State, error) { return s, nil }

// Entry returns a persistable handle on id bound to this store.
func (s *State) Entry(id ir.ResourceID) Entry { return NewEntry(s, id) }

// RootEntry returns a persistable handle on the root.
func (s *State) RootEntry() Entry { return NewEntry(s, s.root) }

// ForEachResource calls fn for every cached resource in id order.
// fn must not call back into the store.
func (s *State) ForEachResource(fn func(ResourceView)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkValidLocked(); err != nil {
		return err
	}
	ids := make([]ir.ResourceID, 0, len(s.resources))
	for id := range s.resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(s.resources[id])
	}
	return nil
}

// Invalidate permanently invalidates the store and fires every signal it
// owns so dependents recompute and observe the failure.
func (s *State) Invalidate(msg string) {
	n := &notifier{}
	s.mu.Lock()
	s.invalidateLocked(msg, n)
	s.mu.Unlock()
	n.fire()
}

func (s *State) invalidateLocked(msg string, n *notifier) {
	if !s.valid {
		return
	}
	s.valid = false
	s.invalidMsg = msg
	n.add(s.resourcesAdded, "invalidated")
	for _, res := range s.resources {
		res.markAllChanged(n)
	}
}

func (s *State) checkValidLocked() error {
	if !s.valid {
		return &InvalidTreeError{Root: s.root, Message: s.invalidMsg}
	}
	return nil
}

// lookupLocked returns the resource and attaches w to its removal signal.
// For a missing resource w is attached to the store-level resources added
// signal instead.
func (s *State) lookupLocked(w reactive.Watcher, id ir.ResourceID) (*Resource, bool) {
	res, ok := s.resources[id]
	if !ok {
		s.resourcesAdded.AttachWatcher(w)
		return nil, false
	}
	res.removed.AttachWatcher(w)
	return res, true
}

// UpdateFromResourceData applies one patch round.
//
// Every entry either updates the cached resource with the same id or
// creates it. Reference count increments are applied for the whole round
// before decrements, and decrements cascade breadth-first through evicted
// resources. With allowOrphans false every patched id must still be in the
// store afterwards.
//
// Any invariant violation returns a *StateUpdateError and invalidates the
// store permanently.
func (s *State) UpdateFromResourceData(patch []ir.ExtendedResourceData, allowOrphans bool) error {
	n := &notifier{}
	s.mu.Lock()
	err := s.applyLocked(patch, allowOrphans, n)
	if err != nil && IsStateUpdateError(err) {
		s.logger.Error("tree state update rejected",
			"root", s.root,
			"error", err)
		s.invalidateLocked(err.Error(), n)
	}
	s.mu.Unlock()
	n.fire()
	return err
}

type refDelta struct {
	increments []ir.ResourceID
	decrements []ir.ResourceID
	created    []ir.ResourceID
}

func (d *refDelta) inc(id ir.ResourceID) {
	if !id.IsNull() {
		d.increments = append(d.increments, id)
	}
}

func (d *refDelta) dec(id ir.ResourceID) {
	if !id.IsNull() {
		d.decrements = append(d.decrements, id)
	}
}

func (s *State) applyLocked(patch []ir.ExtendedResourceData, allowOrphans bool, n *notifier) error {
	if err := s.checkValidLocked(); err != nil {
		return err
	}

	var delta refDelta
	for i := range patch {
		rd := &patch[i]
		if rd.ID.IsNull() {
			return newTransitionError("patch entry without resource id", nil, rd.BasicResourceData)
		}
		if res, ok := s.resources[rd.ID]; ok {
			if err := s.patchResource(res, rd, &delta, n); err != nil {
				return err
			}
			continue
		}
		if err := s.createResource(rd, &delta, n); err != nil {
			return err
		}
	}

	for _, id := range delta.increments {
		res, ok := s.resources[id]
		if !ok {
			return newOrphanError(ErrCodeOrphanResource, id)
		}
		res.refCount++
	}

	if err := s.collect(delta.decrements, n); err != nil {
		return err
	}

	// Resources created this round that nothing references.
	var unreferenced []ir.ResourceID
	for _, id := range delta.created {
		res, ok := s.resources[id]
		if ok && res.refCount == 0 && id != s.root {
			unreferenced = s.evict(res, unreferenced, n)
		}
	}
	if err := s.collect(unreferenced, n); err != nil {
		return err
	}

	if !allowOrphans {
		for i := range patch {
			if _, ok := s.resources[patch[i].ID]; !ok {
				return newOrphanError(ErrCodeOrphanInput, patch[i].ID)
			}
		}
	}
	return nil
}

// collect applies decrements breadth-first. Resources reaching zero are
// evicted and their own references are decremented in the next wave.
func (s *State) collect(current []ir.ResourceID, n *notifier) error {
	for len(current) > 0 {
		var next []ir.ResourceID
		for _, id := range current {
			res, ok := s.resources[id]
			if !ok {
				return newOrphanError(ErrCodeOrphanResource, id)
			}
			res.refCount--
			if res.refCount == 0 && id != s.root {
				next = s.evict(res, next, n)
			}
		}
		current = next
	}
	return nil
}

func (s *State) evict(res *Resource, next []ir.ResourceID, n *notifier) []ir.ResourceID {
	if !res.errorID.IsNull() {
		next = append(next, res.errorID)
	}
	for _, f := range res.fields {
		next = f.references(next)
		n.add(f.change, "resource_removed")
	}
	n.add(res.removed, "resource_removed")
	delete(s.resources, res.id)
	return next
}

func (s *State) createResource(rd *ir.ExtendedResourceData, delta *refDelta, n *notifier) error {
	if rd.ResourceReady && !rd.InputsLocked {
		return newTransitionError("ready without input or output lock", nil, rd.BasicResourceData)
	}

	res := newResource(rd)
	if res.id == s.root {
		// The root holds a permanent reference on itself.
		res.refCount = 1
	}
	delta.inc(res.errorID)
	for _, f := range res.fields {
		delta.inc(f.value)
		delta.inc(f.errorID)
	}

	if s.finalPredicate(res) {
		res.markFinal(n)
	}

	s.resources[res.id] = res
	delta.created = append(delta.created, res.id)
	n.add(s.resourcesAdded, "resource_added")
	return nil
}

func (s *State) patchResource(res *Resource, rd *ir.ExtendedResourceData, delta *refDelta, n *notifier) error {
	before := res.basicState()
	transition := func(reason string) error {
		return newTransitionError(reason, &before, rd.BasicResourceData)
	}

	if res.final {
		return transition("resource state can't be updated after it is marked as final")
	}

	changed := false
	res.version++

	if res.originalID != rd.OriginalResourceID {
		if !res.originalID.IsNull() {
			return transition("originalResourceId can't change after it is set")
		}
		res.originalID = rd.OriginalResourceID
		n.add(res.stateChanged, "duplicate")
		changed = true
	}

	if res.errorID != rd.Error {
		if !res.errorID.IsNull() {
			return transition("resource can't change attached error after it is set")
		}
		res.errorID = rd.Error
		delta.inc(res.errorID)
		n.add(res.stateChanged, "error")
		changed = true
	}

	for _, fd := range rd.Fields {
		f, ok := res.fields[fd.Name]
		if !ok {
			switch {
			case fd.Type.IsInputOrService():
				if res.inputsLocked {
					return transition(fmt.Sprintf("adding %s (%s) field while inputs locked", fd.Type, fd.Name))
				}
				n.add(res.inputFieldsChanged, "field_added:"+fd.Name)
			case fd.Type == ir.FieldTypeOutput:
				if res.outputsLocked {
					return transition(fmt.Sprintf("adding %s (%s) field while outputs locked", fd.Type, fd.Name))
				}
				n.add(res.outputFieldsChanged, "field_added:"+fd.Name)
			default:
				n.add(res.dynamicFieldsChanged, "field_added:"+fd.Name)
			}
			res.fields[fd.Name] = newField(fd, res.version)
			delta.inc(fd.Value)
			delta.inc(fd.Error)
			changed = true
			continue
		}

		if f.typ != fd.Type {
			if f.typ != ir.FieldTypeDynamic {
				return transition(fmt.Sprintf("field changed type %s -> %s", f.typ, fd.Type))
			}
			switch {
			case fd.Type.IsInputOrService():
				if res.inputsLocked {
					return transition(fmt.Sprintf("adding input field %s while inputs locked", fd.Name))
				}
				n.add(res.inputFieldsChanged, "field_type:"+fd.Name)
			case fd.Type == ir.FieldTypeOutput:
				if res.outputsLocked {
					return transition(fmt.Sprintf("adding output field %s while outputs locked", fd.Name))
				}
				n.add(res.outputFieldsChanged, "field_type:"+fd.Name)
			}
			n.add(res.dynamicFieldsChanged, "field_type:"+fd.Name)
			f.typ = fd.Type
			n.add(f.change, "field_type:"+fd.Name)
			changed = true
		}

		if f.value != fd.Value {
			delta.dec(f.value)
			f.value = fd.Value
			delta.inc(f.value)
			n.add(f.change, "field_value:"+fd.Name)
			changed = true
		}

		if f.errorID != fd.Error {
			delta.dec(f.errorID)
			f.errorID = fd.Error
			delta.inc(f.errorID)
			n.add(f.change, "field_error:"+fd.Name)
			changed = true
		}

		f.resourceVersion = res.version
	}

	// Fields not listed in this patch were removed upstream.
	var stale []string
	for name, f := range res.fields {
		if f.resourceVersion != res.version {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		f := res.fields[name]
		if f.typ.IsLockable() {
			return transition(fmt.Sprintf("removal of %s field %s", f.typ, name))
		}
		n.add(f.change, "field_removed:"+name)
		delete(res.fields, name)
		delta.dec(f.value)
		delta.dec(f.errorID)
		n.add(res.dynamicFieldsChanged, "field_removed:"+name)
		changed = true
	}

	if res.inputsLocked != rd.InputsLocked {
		if res.inputsLocked {
			return transition("inputs unlocking is not permitted")
		}
		res.inputsLocked = true
		n.add(res.lockedChanged, "inputs_locked")
		n.add(res.inputFieldsChanged, "inputs_locked")
		changed = true
	}

	if res.outputsLocked != rd.OutputsLocked {
		if res.outputsLocked {
			return transition("outputs unlocking is not permitted")
		}
		res.outputsLocked = true
		n.add(res.lockedChanged, "outputs_locked")
		n.add(res.outputFieldsChanged, "outputs_locked")
		changed = true
	}

	if res.ready != rd.ResourceReady {
		if res.ready {
			return transition("resource can't lose its ready state")
		}
		if !res.inputsLocked {
			return transition("ready without input or output lock")
		}
		res.ready = true
		n.add(res.stateChanged, "ready")
		changed = true
	}

	if res.serverFinal != rd.Final {
		if res.serverFinal {
			return transition("final flag can't be reset")
		}
		res.serverFinal = true
		changed = true
	}

	if syncKeyValues(res, rd.KV) {
		n.add(res.kvChanged, "kv")
		changed = true
	}

	if changed {
		res.dataVersion = res.version
		if s.finalPredicate(res) {
			res.markFinal(n)
		}
	}
	return nil
}

// syncKeyValues replaces the kv set of res with kvs and reports whether
// anything was added, changed or removed.
func syncKeyValues(res *Resource, kvs []ir.KeyValue) bool {
	changed := false
	seen := make(map[string]struct{}, len(kvs))
	for _, kv := range kvs {
		seen[kv.Key] = struct{}{}
		current, ok := res.kv[kv.Key]
		if !ok || !bytes.Equal(current, kv.Value) {
			res.kv[kv.Key] = kv.Value
			changed = true
		}
	}
	for key := range res.kv {
		if _, ok := seen[key]; !ok {
			delete(res.kv, key)
			changed = true
		}
	}
	return changed
}
