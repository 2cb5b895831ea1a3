package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for diagnostics and hashing.
//
// Key differences from standard json.Marshal:
// 1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
// 2. No HTML escaping (< > & are NOT escaped)
// 3. Strings are NFC normalized
// 4. No floats (returns error)
//
// Supported values: nil, string, bool, int, int64, uint64, ResourceID,
// []any, []string, map[string]any.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return marshalCanonicalString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		fmt.Fprintf(buf, "%d", val)
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case uint64:
		fmt.Fprintf(buf, "%d", val)
	case ResourceID:
		fmt.Fprintf(buf, "%d", uint64(val))
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return marshalCanonicalArray(buf, arr)
	case []any:
		return marshalCanonicalArray(buf, val)
	case map[string]any:
		return marshalCanonicalObject(buf, val)
	case float64, float32:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// marshalCanonicalString writes a JSON string with NFC normalization and
// without HTML escaping.
func marshalCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}

	// json.Encoder adds trailing newline, remove it
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func marshalCanonicalArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := marshalCanonical(buf, elem); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func marshalCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	buf.WriteByte('{')
	for i, k := range sortedKeys(obj) {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := marshalCanonicalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := marshalCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// sortedKeys orders keys by UTF-16 code units.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	return slices.Compare(ua, ub)
}

// Snapshot renders the basic state of a resource as a canonical map.
// Payload bytes are summarised by length.
func (b BasicResourceData) Snapshot() map[string]any {
	return map[string]any{
		"id":             b.ID,
		"original":       b.OriginalResourceID,
		"kind":           string(b.Kind),
		"type":           b.Type.String(),
		"data_len":       len(b.Data),
		"error":          b.Error,
		"inputs_locked":  b.InputsLocked,
		"outputs_locked": b.OutputsLocked,
		"ready":          b.ResourceReady,
		"final":          b.Final,
	}
}

// Describe renders the basic state as canonical JSON for error messages.
func (b BasicResourceData) Describe() string {
	data, err := MarshalCanonical(b.Snapshot())
	if err != nil {
		return fmt.Sprintf("%+v", b)
	}
	return string(data)
}

// FieldList renders field names and targets compactly, e.g.
// "a:Input->rid:2, b:Dynamic".
func (rd ResourceData) FieldList() string {
	parts := make([]string, 0, len(rd.Fields))
	for _, f := range rd.Fields {
		s := f.Name + ":" + string(f.Type)
		if !f.Value.IsNull() {
			s += "->" + f.Value.String()
		}
		if !f.Error.IsNull() {
			s += "!" + f.Error.String()
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
