package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceID_String(t *testing.T) {
	assert.Equal(t, "rid:null", NullResourceID.String())
	assert.Equal(t, "rid:42", ResourceID(42).String())
	assert.True(t, NullResourceID.IsNull())
	assert.False(t, ResourceID(1).IsNull())
}

func TestParseResourceID(t *testing.T) {
	tests := []struct {
		in   string
		want ResourceID
	}{
		{"42", 42},
		{"rid:42", 42},
		{" 7 ", 7},
		{"rid:null", NullResourceID},
		{"", NullResourceID},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResourceID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseResourceID("abc")
	assert.Error(t, err)
}

func TestParseResourceType(t *testing.T) {
	rt, err := ParseResourceType("Block:2")
	require.NoError(t, err)
	assert.Equal(t, ResourceType{Name: "Block", Version: "2"}, rt)

	rt, err = ParseResourceType("Value")
	require.NoError(t, err)
	assert.Equal(t, ResourceType{Name: "Value", Version: "1"}, rt)
	assert.Equal(t, "Value:1", rt.String())

	_, err = ParseResourceType("")
	assert.Error(t, err)
	_, err = ParseResourceType(":1")
	assert.Error(t, err)
}

func TestFieldType_Classes(t *testing.T) {
	assert.True(t, FieldTypeInput.IsInputOrService())
	assert.True(t, FieldTypeService.IsInputOrService())
	assert.False(t, FieldTypeOutput.IsInputOrService())
	assert.False(t, FieldTypeDynamic.IsLockable())
	assert.True(t, FieldTypeOutput.IsLockable())
}

func TestResourceData_References(t *testing.T) {
	rd := ResourceData{
		BasicResourceData: BasicResourceData{ID: 1, Error: 5},
		Fields: []FieldData{
			{Name: "a", Type: FieldTypeInput, Value: 2},
			{Name: "b", Type: FieldTypeDynamic},
			{Name: "c", Type: FieldTypeOutput, Value: 3, Error: 4},
		},
	}
	assert.Equal(t, []ResourceID{5, 2, 3, 4}, rd.References())

	f, ok := rd.Field("c")
	require.True(t, ok)
	assert.Equal(t, ResourceID(3), f.Value)
	_, ok = rd.Field("missing")
	assert.False(t, ok)
}

func TestStateDigest(t *testing.T) {
	base := ExtendedResourceData{
		ResourceData: ResourceData{
			BasicResourceData: BasicResourceData{ID: 1, Kind: KindValue, Type: ResourceType{Name: "V", Version: "1"}, Data: []byte("hi")},
		},
		KV: []KeyValue{{Key: "k", Value: []byte("v")}},
	}
	d1 := MustStateDigest(base)
	assert.Len(t, d1, 64)
	assert.Equal(t, d1, MustStateDigest(base), "digest must be deterministic")

	changed := base
	changed.KV = []KeyValue{{Key: "k", Value: []byte("w")}}
	assert.NotEqual(t, d1, MustStateDigest(changed))

	withField := base
	withField.Fields = []FieldData{{Name: "f", Type: FieldTypeDynamic}}
	assert.NotEqual(t, d1, MustStateDigest(withField))
}
