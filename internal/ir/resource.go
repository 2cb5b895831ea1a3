package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceID identifies a resource in the remote graph.
type ResourceID uint64

// NullResourceID means "no reference".
const NullResourceID ResourceID = 0

// IsNull reports whether id is the null reference.
func (id ResourceID) IsNull() bool {
	return id == NullResourceID
}

// String renders the id for logs and error messages.
func (id ResourceID) String() string {
	if id.IsNull() {
		return "rid:null"
	}
	return "rid:" + strconv.FormatUint(uint64(id), 10)
}

// ParseResourceID parses both the plain decimal form and the "rid:N" form.
func ParseResourceID(s string) (ResourceID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "rid:")
	if s == "null" || s == "" {
		return NullResourceID, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return NullResourceID, fmt.Errorf("parse resource id %q: %w", s, err)
	}
	return ResourceID(n), nil
}

// FieldType classifies a field of a resource.
type FieldType string

const (
	FieldTypeInput   FieldType = "Input"
	FieldTypeOutput  FieldType = "Output"
	FieldTypeService FieldType = "Service"
	FieldTypeDynamic FieldType = "Dynamic"
)

// ValidFieldTypes defines allowed field types.
var ValidFieldTypes = map[FieldType]bool{
	FieldTypeInput:   true,
	FieldTypeOutput:  true,
	FieldTypeService: true,
	FieldTypeDynamic: true,
}

// IsInputOrService reports whether the field belongs to the input field list.
func (t FieldType) IsInputOrService() bool {
	return t == FieldTypeInput || t == FieldTypeService
}

// IsLockable reports whether the field belongs to a lockable field list.
// Only Dynamic fields may be removed.
func (t FieldType) IsLockable() bool {
	return t != FieldTypeDynamic
}

// ResourceKind distinguishes structural resources from value resources.
type ResourceKind string

const (
	KindStructural ResourceKind = "Structural"
	KindValue      ResourceKind = "Value"
)

// ResourceType is the server-side type of a resource.
type ResourceType struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// String renders the type as "Name:Version".
func (t ResourceType) String() string {
	return t.Name + ":" + t.Version
}

// ParseResourceType parses the "Name:Version" form. A missing version
// defaults to "1".
func ParseResourceType(s string) (ResourceType, error) {
	if s == "" {
		return ResourceType{}, fmt.Errorf("empty resource type")
	}
	name, version, found := strings.Cut(s, ":")
	if !found {
		version = "1"
	}
	if name == "" {
		return ResourceType{}, fmt.Errorf("resource type %q has empty name", s)
	}
	return ResourceType{Name: name, Version: version}, nil
}

// FieldData is the state of one field as reported by the remote store.
type FieldData struct {
	Name  string     `json:"name"`
	Type  FieldType  `json:"type"`
	Value ResourceID `json:"value"`
	Error ResourceID `json:"error"`
}

// BasicResourceData is the state of a resource without its fields.
type BasicResourceData struct {
	ID                 ResourceID   `json:"id"`
	OriginalResourceID ResourceID   `json:"original_resource_id"`
	Kind               ResourceKind `json:"kind"`
	Type               ResourceType `json:"type"`
	Data               []byte       `json:"data,omitempty"`
	Error              ResourceID   `json:"error"`
	InputsLocked       bool         `json:"inputs_locked"`
	OutputsLocked      bool         `json:"outputs_locked"`
	ResourceReady      bool         `json:"resource_ready"`

	// Final is derived by the server and is a robust criteria of the
	// resource never changing again.
	Final bool `json:"final"`
}

// ResourceData is the state of a resource including its fields.
type ResourceData struct {
	BasicResourceData
	Fields []FieldData `json:"fields"`
}

// KeyValue is one entry of the key/value set of a resource.
type KeyValue struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// ExtendedResourceData is the patch unit applied to the cache store: the
// resource state plus its full current key/value set.
type ExtendedResourceData struct {
	ResourceData
	KV []KeyValue `json:"kv"`
}

// References returns every non-null id referenced by the resource: its
// error and the value and error of each field, in field order.
func (rd ResourceData) References() []ResourceID {
	refs := make([]ResourceID, 0, 1+2*len(rd.Fields))
	if !rd.Error.IsNull() {
		refs = append(refs, rd.Error)
	}
	for _, f := range rd.Fields {
		if !f.Value.IsNull() {
			refs = append(refs, f.Value)
		}
		if !f.Error.IsNull() {
			refs = append(refs, f.Error)
		}
	}
	return refs
}

// Field returns the field with the given name.
func (rd ResourceData) Field(name string) (FieldData, bool) {
	for _, f := range rd.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldData{}, false
}
