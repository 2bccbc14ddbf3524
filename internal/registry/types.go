// Package registry loads and validates the typed model/field/seed registry
// that drives the export pipeline: target models, CSV header order, field
// types, the foreign-key graph, ID templates, and seed vocabularies.
package registry

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// FieldType is the closed set of field type tags a FieldSpec may carry.
type FieldType string

// Field types. An empty FieldType means plain text with no typed check.
const (
	TypeString   FieldType = "string"
	TypeEmail    FieldType = "email"
	TypePhone    FieldType = "phone"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeBool     FieldType = "bool"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeEnum     FieldType = "enum"
	TypeM2O      FieldType = "m2o"
)

var validFieldTypes = map[FieldType]struct{}{
	"":           {},
	TypeString:   {},
	TypeEmail:    {},
	TypePhone:    {},
	TypeDate:     {},
	TypeDatetime: {},
	TypeBool:     {},
	TypeInt:      {},
	TypeFloat:    {},
	TypeEnum:     {},
	TypeM2O:      {},
}

// Scalar accepts any YAML scalar (string, bool, number) and keeps its
// literal text. Registry defaults are carried as text because every cell in
// the pipeline is text.
type Scalar string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	*s = Scalar(node.Value)

	return nil
}

// FieldSpec describes a single target field of a model.
type FieldSpec struct {
	Name        string    `yaml:"-"`
	Type        FieldType `yaml:"type"`
	Required    bool      `yaml:"required"`
	Optional    bool      `yaml:"optional"`
	Derived     bool      `yaml:"derived"`
	Default     *Scalar   `yaml:"default"`
	Transform   string    `yaml:"transform"`
	Rule        string    `yaml:"rule"`
	MapFromSeed string    `yaml:"map_from_seed"`
	Target      string    `yaml:"target"`
}

// DefaultValue returns the default as a nullable string cell.
func (f *FieldSpec) DefaultValue() *string {
	if f.Default == nil {
		return nil
	}

	s := string(*f.Default)

	return &s
}

// ModelSpec describes one target model: its output file, the exact CSV
// header order, the external-ID template, and its fields.
type ModelSpec struct {
	Name        string                `yaml:"-"`
	CSVFilename string                `yaml:"csv"`
	IDTemplate  string                `yaml:"id_template"`
	Headers     []string              `yaml:"headers"`
	Fields      map[string]*FieldSpec `yaml:"fields"`
}

// FieldNames returns the model's field names in deterministic order: header
// order first, then derived fields that are not headers, sorted.
func (m *ModelSpec) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	seen := make(map[string]struct{}, len(m.Fields))

	for _, h := range m.Headers {
		if _, ok := m.Fields[h]; ok {
			names = append(names, h)
			seen[h] = struct{}{}
		}
	}

	var extra []string

	for name := range m.Fields {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}

	sort.Strings(extra)

	return append(names, extra...)
}

// SeedSpec is a reference vocabulary: canonical external IDs plus synonym
// aliases resolving to them.
type SeedSpec struct {
	Name      string
	Canonical map[string]struct{}
	Synonyms  map[string]string
}

// seedDoc is the YAML shape of a seed.
type seedDoc struct {
	Canonical []string          `yaml:"canonical"`
	Synonyms  map[string]string `yaml:"synonyms"`
}

// UnmarshalYAML implements yaml.Unmarshaler, converting the canonical list
// into a set.
func (s *SeedSpec) UnmarshalYAML(node *yaml.Node) error {
	var doc seedDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}

	s.Canonical = make(map[string]struct{}, len(doc.Canonical))
	for _, c := range doc.Canonical {
		s.Canonical[c] = struct{}{}
	}

	s.Synonyms = doc.Synonyms
	if s.Synonyms == nil {
		s.Synonyms = map[string]string{}
	}

	return nil
}

// Resolve maps a value to its canonical external ID: synonym aliases resolve
// to their target, canonical values resolve to themselves. Lookup is exact
// match. The second return is false when the value is unknown.
func (s *SeedSpec) Resolve(value string) (string, bool) {
	if target, ok := s.Synonyms[value]; ok {
		return target, true
	}

	if _, ok := s.Canonical[value]; ok {
		return value, true
	}

	return "", false
}

// Registry is the root document: models keyed by name, seeds keyed by name,
// and the total import order. A Registry returned by Load has passed the
// full validation pass and is read-only during an export.
type Registry struct {
	Version     int                   `yaml:"version"`
	ImportOrder []string              `yaml:"import_order"`
	Models      map[string]*ModelSpec `yaml:"models"`
	Seeds       map[string]*SeedSpec  `yaml:"seeds"`
}
