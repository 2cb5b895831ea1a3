package tree

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
)

// initialResourceVersion is the version of a resource created by a patch.
const initialResourceVersion = 0

type field struct {
	typ     ir.FieldType
	value   ir.ResourceID
	errorID ir.ResourceID

	// resourceVersion is the resource version of the last patch that
	// listed this field.
	resourceVersion int

	change *reactive.ChangeSource
}

func newField(fd ir.FieldData, version int) *field {
	return &field{
		typ:             fd.Type,
		value:           fd.Value,
		errorID:         fd.Error,
		resourceVersion: version,
		change:          &reactive.ChangeSource{},
	}
}

func (f *field) references(dst []ir.ResourceID) []ir.ResourceID {
	if !f.value.IsNull() {
		dst = append(dst, f.value)
	}
	if !f.errorID.IsNull() {
		dst = append(dst, f.errorID)
	}
	return dst
}

// Resource is the cached state of one resource. Only the store mutates it.
type Resource struct {
	id            ir.ResourceID
	originalID    ir.ResourceID
	kind          ir.ResourceKind
	typ           ir.ResourceType
	data          []byte // set once, on creation
	errorID       ir.ResourceID
	inputsLocked  bool
	outputsLocked bool
	ready         bool
	serverFinal   bool

	fields map[string]*field
	kv     map[string][]byte

	final    bool
	refCount int

	version     int
	dataVersion int

	// removed and the field change sources live as long as the resource;
	// the rest are released by markFinal.
	removed              *reactive.ChangeSource
	finalChanged         *reactive.ChangeSource
	stateChanged         *reactive.ChangeSource
	lockedChanged        *reactive.ChangeSource
	inputFieldsChanged   *reactive.ChangeSource
	outputFieldsChanged  *reactive.ChangeSource
	dynamicFieldsChanged *reactive.ChangeSource
	kvChanged            *reactive.ChangeSource

	decodeMu    sync.Mutex
	dataString  *string
	dataJSON    any
	dataJSONErr error
	dataDecoded bool
}

func newResource(rd *ir.ExtendedResourceData) *Resource {
	r := &Resource{
		id:                   rd.ID,
		originalID:           rd.OriginalResourceID,
		kind:                 rd.Kind,
		typ:                  rd.Type,
		data:                 rd.Data,
		errorID:              rd.Error,
		inputsLocked:         rd.InputsLocked,
		outputsLocked:        rd.OutputsLocked,
		ready:                rd.ResourceReady,
		serverFinal:          rd.Final,
		fields:               make(map[string]*field, len(rd.Fields)),
		kv:                   make(map[string][]byte, len(rd.KV)),
		version:              initialResourceVersion,
		dataVersion:          initialResourceVersion,
		removed:              &reactive.ChangeSource{},
		finalChanged:         &reactive.ChangeSource{},
		stateChanged:         &reactive.ChangeSource{},
		lockedChanged:        &reactive.ChangeSource{},
		inputFieldsChanged:   &reactive.ChangeSource{},
		outputFieldsChanged:  &reactive.ChangeSource{},
		dynamicFieldsChanged: &reactive.ChangeSource{},
		kvChanged:            &reactive.ChangeSource{},
	}
	for _, fd := range rd.Fields {
		r.fields[fd.Name] = newField(fd, initialResourceVersion)
	}
	for _, kv := range rd.KV {
		r.kv[kv.Key] = kv.Value
	}
	return r
}

// ID returns the resource id.
func (r *Resource) ID() ir.ResourceID { return r.id }

// OriginalID returns the id this resource is a proven duplicate of.
func (r *Resource) OriginalID() ir.ResourceID { return r.originalID }

// Kind returns the resource kind.
func (r *Resource) Kind() ir.ResourceKind { return r.kind }

// Type returns the resource type.
func (r *Resource) Type() ir.ResourceType { return r.typ }

// ErrorID returns the id of the resource error, or NullResourceID.
func (r *Resource) ErrorID() ir.ResourceID { return r.errorID }

// InputsLocked reports the input field list lock.
func (r *Resource) InputsLocked() bool { return r.inputsLocked }

// OutputsLocked reports the output field list lock.
func (r *Resource) OutputsLocked() bool { return r.outputsLocked }

// Ready reports the ready flag.
func (r *Resource) Ready() bool { return r.ready }

// ServerFinal reports the final flag derived by the server.
func (r *Resource) ServerFinal() bool { return r.serverFinal }

// Final reports whether the cache stopped tracking the resource.
func (r *Resource) Final() bool { return r.final }

// RefCount returns the number of references held on the resource.
func (r *Resource) RefCount() int { return r.refCount }

// Version is bumped by every patch that lists the resource.
func (r *Resource) Version() int { return r.version }

// DataVersion is the version of the last patch that changed the resource.
func (r *Resource) DataVersion() int { return r.dataVersion }

// KeyCount returns the number of key/value entries.
func (r *Resource) KeyCount() int { return len(r.kv) }

// Fields returns the fields sorted by name.
func (r *Resource) Fields() []ir.FieldData {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ir.FieldData, 0, len(names))
	for _, name := range names {
		f := r.fields[name]
		out = append(out, ir.FieldData{Name: name, Type: f.typ, Value: f.value, Error: f.errorID})
	}
	return out
}

func (r *Resource) basicState() ir.BasicResourceData {
	return ir.BasicResourceData{
		ID:                 r.id,
		OriginalResourceID: r.originalID,
		Kind:               r.kind,
		Type:               r.typ,
		Data:               r.data,
		Error:              r.errorID,
		InputsLocked:       r.inputsLocked,
		OutputsLocked:      r.outputsLocked,
		ResourceReady:      r.ready,
		Final:              r.serverFinal,
	}
}

func (r *Resource) isReadyOrError() bool {
	return !r.errorID.IsNull() || r.ready || !r.originalID.IsNull()
}

// references lists everything the resource holds a count on.
func (r *Resource) references() []ir.ResourceID {
	refs := make([]ir.ResourceID, 0, 1+2*len(r.fields))
	if !r.errorID.IsNull() {
		refs = append(refs, r.errorID)
	}
	for _, f := range r.fields {
		refs = f.references(refs)
	}
	return refs
}

// markFinal fires finalChanged and releases the signals that can no longer
// fire for a resource that accepts no further patches.
func (r *Resource) markFinal(n *notifier) {
	if r.final {
		return
	}
	r.final = true
	n.add(r.finalChanged, "final")
	r.finalChanged = nil
	r.stateChanged = nil
	r.lockedChanged = nil
	r.inputFieldsChanged = nil
	r.outputFieldsChanged = nil
	r.dynamicFieldsChanged = nil
	r.kvChanged = nil
}

// markAllChanged fires every signal of the resource. Used on invalidation.
func (r *Resource) markAllChanged(n *notifier) {
	n.add(r.removed, "invalidated")
	n.add(r.finalChanged, "invalidated")
	n.add(r.stateChanged, "invalidated")
	n.add(r.lockedChanged, "invalidated")
	n.add(r.inputFieldsChanged, "invalidated")
	n.add(r.outputFieldsChanged, "invalidated")
	n.add(r.dynamicFieldsChanged, "invalidated")
	n.add(r.kvChanged, "invalidated")
	for _, f := range r.fields {
		n.add(f.change, "invalidated")
	}
}

func (r *Resource) dataAsString() string {
	r.decodeMu.Lock()
	defer r.decodeMu.Unlock()
	if r.dataString == nil {
		s := string(r.data)
		r.dataString = &s
	}
	return *r.dataString
}

func (r *Resource) dataAsJSON() (any, error) {
	r.decodeMu.Lock()
	defer r.decodeMu.Unlock()
	if !r.dataDecoded {
		r.dataDecoded = true
		if len(r.data) > 0 {
			r.dataJSONErr = json.Unmarshal(r.data, &r.dataJSON)
		}
	}
	return r.dataJSON, r.dataJSONErr
}

// notifier collects the change sources fired by one patch round. They are
// fired after the store lock is released.
type notifier struct {
	sources []*reactive.ChangeSource
	markers []string
}

func (n *notifier) add(cs *reactive.ChangeSource, marker string) {
	if cs == nil {
		return
	}
	n.sources = append(n.sources, cs)
	n.markers = append(n.markers, marker)
}

func (n *notifier) fire() {
	for i, cs := range n.sources {
		cs.MarkChanged(n.markers[i])
	}
	n.sources = nil
	n.markers = nil
}

