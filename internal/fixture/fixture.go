package fixture

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote"
)

//go:embed schema.cue
var schemaSource []byte

// Fixture is a resource graph document.
type Fixture struct {
	// Name identifies the fixture in logs and CLI output.
	Name string `yaml:"name" json:"name"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Root is the id the tree is synchronized from.
	Root ir.ResourceID `yaml:"root" json:"root"`

	Resources []Resource `yaml:"resources" json:"resources"`
}

// Resource is one resource of a fixture.
type Resource struct {
	ID ir.ResourceID `yaml:"id" json:"id"`

	// Kind defaults to Structural.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Type is "Name:Version"; a bare name gets version 1.
	Type string `yaml:"type" json:"type"`

	Data          string            `yaml:"data,omitempty" json:"data,omitempty"`
	Error         ir.ResourceID     `yaml:"error,omitempty" json:"error,omitempty"`
	Original      ir.ResourceID     `yaml:"original,omitempty" json:"original,omitempty"`
	InputsLocked  bool              `yaml:"inputs_locked,omitempty" json:"inputs_locked,omitempty"`
	OutputsLocked bool              `yaml:"outputs_locked,omitempty" json:"outputs_locked,omitempty"`
	Ready         bool              `yaml:"ready,omitempty" json:"ready,omitempty"`
	Final         bool              `yaml:"final,omitempty" json:"final,omitempty"`
	Fields        []Field           `yaml:"fields,omitempty" json:"fields,omitempty"`
	KV            map[string]string `yaml:"kv,omitempty" json:"kv,omitempty"`
}

// Field is one field of a fixture resource.
type Field struct {
	Name  string        `yaml:"name" json:"name"`
	Type  ir.FieldType  `yaml:"type" json:"type"`
	Value ir.ResourceID `yaml:"value,omitempty" json:"value,omitempty"`
	Error ir.ResourceID `yaml:"error,omitempty" json:"error,omitempty"`
}

// Load reads a fixture file. The format is chosen by extension: .yaml and
// .yml are YAML, .cue is CUE.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(data, filepath.Base(path))
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", ext)
	}
}

// ParseYAML parses and validates a YAML fixture. Unknown keys are rejected.
func ParseYAML(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// ParseCUE compiles a CUE fixture, unifies it with the #Fixture schema and
// decodes the concrete result. filename is used in error positions.
func ParseCUE(data []byte, filename string) (*Fixture, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling fixture schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}

	value = schema.LookupPath(cue.ParsePath("#Fixture")).Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}

	var f Fixture
	if err := value.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding CUE fixture: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// Validate checks that the fixture describes a closed graph: ids are
// unique and non-null, the root is declared, and every reference points
// at a declared resource.
func Validate(f *Fixture) error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if f.Root.IsNull() {
		return fmt.Errorf("root is required")
	}
	if len(f.Resources) == 0 {
		return fmt.Errorf("resources list is required and must be non-empty")
	}

	declared := make(map[ir.ResourceID]bool, len(f.Resources))
	for i, r := range f.Resources {
		if r.ID.IsNull() {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
		if declared[r.ID] {
			return fmt.Errorf("resources[%d]: duplicate id %s", i, r.ID)
		}
		declared[r.ID] = true
	}
	if !declared[f.Root] {
		return fmt.Errorf("root %s is not declared", f.Root)
	}

	for i, r := range f.Resources {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("resources[%d]: %w", i, err)
		}
		refs := []ir.ResourceID{r.Error, r.Original}
		for _, fd := range r.Fields {
			refs = append(refs, fd.Value, fd.Error)
		}
		for _, ref := range refs {
			if !ref.IsNull() && !declared[ref] {
				return fmt.Errorf("resources[%d]: reference to undeclared resource %s", i, ref)
			}
		}
	}
	return nil
}

// Validate checks a single resource on its own: id, type, kind and
// fields. References are not resolved.
func (r Resource) Validate() error {
	if r.ID.IsNull() {
		return fmt.Errorf("id is required")
	}
	if _, err := ir.ParseResourceType(r.Type); err != nil {
		return err
	}
	switch ir.ResourceKind(r.Kind) {
	case "", ir.KindStructural, ir.KindValue:
	default:
		return fmt.Errorf("invalid kind %q", r.Kind)
	}

	names := make(map[string]bool, len(r.Fields))
	for j, fd := range r.Fields {
		if fd.Name == "" {
			return fmt.Errorf("fields[%d]: name is required", j)
		}
		if names[fd.Name] {
			return fmt.Errorf("fields[%d]: duplicate field %q", j, fd.Name)
		}
		names[fd.Name] = true
		if !ir.ValidFieldTypes[fd.Type] {
			return fmt.Errorf("fields[%d]: invalid type %q", j, fd.Type)
		}
	}
	return nil
}

// ResourceData converts the fixture into remote store records, in
// declaration order. Key/value entries are sorted by key.
func (f *Fixture) ResourceData() []ir.ExtendedResourceData {
	out := make([]ir.ExtendedResourceData, 0, len(f.Resources))
	for _, r := range f.Resources {
		out = append(out, r.ResourceData())
	}
	return out
}

// ResourceData converts r into a remote store record. r must be valid.
func (r Resource) ResourceData() ir.ExtendedResourceData {
	typ, _ := ir.ParseResourceType(r.Type)
	kind := ir.ResourceKind(r.Kind)
	if kind == "" {
		kind = ir.KindStructural
	}

	rd := ir.ExtendedResourceData{
		ResourceData: ir.ResourceData{
			BasicResourceData: ir.BasicResourceData{
				ID:                 r.ID,
				OriginalResourceID: r.Original,
				Kind:               kind,
				Type:               typ,
				Error:              r.Error,
				InputsLocked:       r.InputsLocked,
				OutputsLocked:      r.OutputsLocked,
				ResourceReady:      r.Ready,
				Final:              r.Final,
			},
			Fields: make([]ir.FieldData, 0, len(r.Fields)),
		},
		KV: make([]ir.KeyValue, 0, len(r.KV)),
	}
	if r.Data != "" {
		rd.Data = []byte(r.Data)
	}
	for _, fd := range r.Fields {
		rd.Fields = append(rd.Fields, ir.FieldData{
			Name:  fd.Name,
			Type:  fd.Type,
			Value: fd.Value,
			Error: fd.Error,
		})
	}

	keys := make([]string, 0, len(r.KV))
	for k := range r.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rd.KV = append(rd.KV, ir.KeyValue{Key: k, Value: []byte(r.KV[k])})
	}
	return rd
}

// Apply writes every fixture resource into sink.
func Apply(ctx context.Context, sink remote.Sink, f *Fixture) error {
	for _, rd := range f.ResourceData() {
		if err := sink.PutResource(ctx, rd); err != nil {
			return fmt.Errorf("apply resource %s: %w", rd.ID, err)
		}
	}
	return nil
}
