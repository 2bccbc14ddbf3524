package dataset

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MappingStatus is the review state of a column mapping. Only confirmed
// mappings are consumed by the export.
type MappingStatus string

// Mapping states.
const (
	StatusSuggested MappingStatus = "suggested"
	StatusConfirmed MappingStatus = "confirmed"
	StatusRejected  MappingStatus = "rejected"
)

type (
	// TransformStep is one named transform in a mapping's chain, applied
	// in order before validation.
	TransformStep struct {
		Fn     string            `yaml:"fn"`
		Params map[string]string `yaml:"params"`
	}

	// Mapping associates a source column with a target model field. The
	// optional transform chain references the transform catalog by name.
	Mapping struct {
		Sheet        string          `yaml:"sheet"`
		SourceColumn string          `yaml:"source_column"`
		TargetModel  string          `yaml:"target_model"`
		TargetField  string          `yaml:"target_field"`
		Status       MappingStatus   `yaml:"status"`
		Transforms   []TransformStep `yaml:"transforms"`
	}

	// MappingStore supplies the confirmed mappings for a (dataset, model)
	// pair. Upstream owns suggestion and review; the export only reads.
	MappingStore interface {
		Confirmed(ctx context.Context, datasetID, model string) ([]*Mapping, error)
	}

	// StaticMappings is an in-memory MappingStore keyed by dataset,
	// loadable from a YAML document. Used by the CLI and tests.
	StaticMappings struct {
		byDataset map[string][]*Mapping
	}

	// mappingsDoc is the YAML shape of a mappings file.
	mappingsDoc struct {
		Datasets map[string][]*Mapping `yaml:"datasets"`
	}
)

// NewStaticMappings creates a store holding the given mappings for one
// dataset.
func NewStaticMappings(datasetID string, mappings []*Mapping) *StaticMappings {
	return &StaticMappings{byDataset: map[string][]*Mapping{datasetID: mappings}}
}

// LoadMappingsFile reads a YAML mappings document keyed by dataset ID.
func LoadMappingsFile(path string) (*StaticMappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}

	var doc mappingsDoc

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}

	return &StaticMappings{byDataset: doc.Datasets}, nil
}

// Confirmed implements MappingStore, filtering to confirmed mappings for
// the model.
func (s *StaticMappings) Confirmed(_ context.Context, datasetID, model string) ([]*Mapping, error) {
	out := []*Mapping{}

	for _, m := range s.byDataset[datasetID] {
		if m.Status == StatusConfirmed && m.TargetModel == model {
			out = append(out, m)
		}
	}

	return out, nil
}
