package testutil

import (
	"github.com/roach88/resgraph/internal/ir"
)

// DefaultType is the resource type used by builders unless overridden.
var DefaultType = ir.ResourceType{Name: "Test", Version: "1"}

// ResourceBuilder assembles patch entries for tests.
//
//	testutil.Res(1).Input("a", 2).Locked().Ready().Build()
type ResourceBuilder struct {
	rd ir.ExtendedResourceData
}

// Res starts a structural resource with no fields.
func Res(id ir.ResourceID) *ResourceBuilder {
	return &ResourceBuilder{rd: ir.ExtendedResourceData{
		ResourceData: ir.ResourceData{
			BasicResourceData: ir.BasicResourceData{
				ID:   id,
				Kind: ir.KindStructural,
				Type: DefaultType,
			},
		},
	}}
}

// Val starts a ready value resource carrying data.
func Val(id ir.ResourceID, data string) *ResourceBuilder {
	b := Res(id).Data(data).Locked().Ready()
	b.rd.Kind = ir.KindValue
	return b
}

// Type sets the resource type name, version "1".
func (b *ResourceBuilder) Type(name string) *ResourceBuilder {
	b.rd.Type = ir.ResourceType{Name: name, Version: "1"}
	return b
}

// Data sets the payload.
func (b *ResourceBuilder) Data(data string) *ResourceBuilder {
	b.rd.Data = []byte(data)
	return b
}

// Field appends a field.
func (b *ResourceBuilder) Field(name string, typ ir.FieldType, value, errID ir.ResourceID) *ResourceBuilder {
	b.rd.Fields = append(b.rd.Fields, ir.FieldData{Name: name, Type: typ, Value: value, Error: errID})
	return b
}

// Input appends an Input field pointing at value.
func (b *ResourceBuilder) Input(name string, value ir.ResourceID) *ResourceBuilder {
	return b.Field(name, ir.FieldTypeInput, value, ir.NullResourceID)
}

// Output appends an Output field pointing at value.
func (b *ResourceBuilder) Output(name string, value ir.ResourceID) *ResourceBuilder {
	return b.Field(name, ir.FieldTypeOutput, value, ir.NullResourceID)
}

// Service appends a Service field pointing at value.
func (b *ResourceBuilder) Service(name string, value ir.ResourceID) *ResourceBuilder {
	return b.Field(name, ir.FieldTypeService, value, ir.NullResourceID)
}

// Dynamic appends a Dynamic field pointing at value.
func (b *ResourceBuilder) Dynamic(name string, value ir.ResourceID) *ResourceBuilder {
	return b.Field(name, ir.FieldTypeDynamic, value, ir.NullResourceID)
}

// Error sets the resource error.
func (b *ResourceBuilder) Error(id ir.ResourceID) *ResourceBuilder {
	b.rd.Error = id
	return b
}

// Original marks the resource as a duplicate of id.
func (b *ResourceBuilder) Original(id ir.ResourceID) *ResourceBuilder {
	b.rd.OriginalResourceID = id
	return b
}

// LockInputs sets the input lock.
func (b *ResourceBuilder) LockInputs() *ResourceBuilder {
	b.rd.InputsLocked = true
	return b
}

// LockOutputs sets the output lock.
func (b *ResourceBuilder) LockOutputs() *ResourceBuilder {
	b.rd.OutputsLocked = true
	return b
}

// Locked sets both locks.
func (b *ResourceBuilder) Locked() *ResourceBuilder {
	return b.LockInputs().LockOutputs()
}

// Ready sets the ready flag. It does not lock inputs.
func (b *ResourceBuilder) Ready() *ResourceBuilder {
	b.rd.ResourceReady = true
	return b
}

// Final sets the server final flag.
func (b *ResourceBuilder) Final() *ResourceBuilder {
	b.rd.Final = true
	return b
}

// KV appends a key/value entry.
func (b *ResourceBuilder) KV(key, value string) *ResourceBuilder {
	b.rd.KV = append(b.rd.KV, ir.KeyValue{Key: key, Value: []byte(value)})
	return b
}

// Build returns a copy of the entry; the builder may be reused.
func (b *ResourceBuilder) Build() ir.ExtendedResourceData {
	rd := b.rd
	rd.Data = append([]byte(nil), b.rd.Data...)
	if len(b.rd.Data) == 0 {
		rd.Data = nil
	}
	rd.Fields = append([]ir.FieldData(nil), b.rd.Fields...)
	if len(b.rd.KV) > 0 {
		rd.KV = make([]ir.KeyValue, len(b.rd.KV))
		copy(rd.KV, b.rd.KV)
	}
	return rd
}

// Patch builds every builder into one patch.
func Patch(builders ...*ResourceBuilder) []ir.ExtendedResourceData {
	out := make([]ir.ExtendedResourceData, len(builders))
	for i, b := range builders {
		out[i] = b.Build()
	}
	return out
}
