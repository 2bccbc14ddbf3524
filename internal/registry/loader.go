package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/migrator-io/migrator/internal/idgen"
)

// Sentinel errors for registry loading and lookup.
var (
	// ErrRegistryInvalid wraps every validation failure; callers that only
	// care whether the registry is usable match on this.
	ErrRegistryInvalid = errors.New("registry invalid")
	// ErrModelNotFound is returned by Model for unknown model names.
	ErrModelNotFound = errors.New("model not found in registry")
	// ErrSeedNotFound is returned by Seed for unknown seed names.
	ErrSeedNotFound = errors.New("seed not found in registry")
)

// Loader reads a registry document from disk and validates it. Loaded
// registries are cached by file modification time, so repeated Load calls
// during a run are free and an edited file is picked up on the next export.
type Loader struct {
	path string

	mu     sync.Mutex
	cached *Registry
	mtime  time.Time
}

// NewLoader creates a loader for the given registry file path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load returns the validated registry, re-reading the file only when its
// mtime changed since the last load.
func (l *Loader) Load() (*Registry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrRegistryInvalid, l.path, err)
	}

	if l.cached != nil && info.ModTime().Equal(l.mtime) {
		return l.cached, nil
	}

	reg, err := l.loadLocked()
	if err != nil {
		return nil, err
	}

	l.cached = reg
	l.mtime = info.ModTime()

	return reg, nil
}

// ForceReload bypasses the cache. Intended for tests.
func (l *Loader) ForceReload() (*Registry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.loadLocked()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrRegistryInvalid, l.path, err)
	}

	l.cached = reg
	l.mtime = info.ModTime()

	return reg, nil
}

// Model returns a model spec by name from the loaded registry.
func (l *Loader) Model(name string) (*ModelSpec, error) {
	reg, err := l.Load()
	if err != nil {
		return nil, err
	}

	model, ok := reg.Models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}

	return model, nil
}

// Seed returns a seed spec by name from the loaded registry.
func (l *Loader) Seed(name string) (*SeedSpec, error) {
	reg, err := l.Load()
	if err != nil {
		return nil, err
	}

	seed, ok := reg.Seeds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSeedNotFound, name)
	}

	return seed, nil
}

func (l *Loader) loadLocked() (*Registry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrRegistryInvalid, l.path, err)
	}

	return Parse(data)
}

// Parse decodes and validates a registry document. It is a total
// constructor: the returned Registry has passed every structural check, or
// the error describes the first violation found.
func Parse(data []byte) (*Registry, error) {
	var reg Registry

	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrRegistryInvalid, err)
	}

	// Backfill names so specs are self-describing outside their maps.
	for name, model := range reg.Models {
		model.Name = name

		for fieldName, field := range model.Fields {
			field.Name = fieldName
		}
	}

	for name, seed := range reg.Seeds {
		seed.Name = name
	}

	if err := reg.validate(); err != nil {
		return nil, err
	}

	return &reg, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRegistryInvalid, fmt.Sprintf(format, args...))
}

// validate runs the full fail-fast validation pass over the decoded
// document.
func (r *Registry) validate() error {
	if err := r.validateImportOrder(); err != nil {
		return err
	}

	for _, name := range r.ImportOrder {
		if err := r.validateModel(r.Models[name]); err != nil {
			return err
		}
	}

	for _, seed := range r.Seeds {
		for alias, target := range seed.Synonyms {
			if _, ok := seed.Canonical[target]; !ok {
				return invalidf("seed %q: synonym %q targets %q which is not canonical",
					seed.Name, alias, target)
			}
		}
	}

	return r.validateTopology()
}

func (r *Registry) validateImportOrder() error {
	if len(r.ImportOrder) == 0 {
		return invalidf("import_order is empty")
	}

	seen := make(map[string]struct{}, len(r.ImportOrder))

	for _, name := range r.ImportOrder {
		if _, dup := seen[name]; dup {
			return invalidf("duplicate model %q in import_order", name)
		}

		seen[name] = struct{}{}

		if _, ok := r.Models[name]; !ok {
			return invalidf("import_order references unknown model %q", name)
		}
	}

	return nil
}

func (r *Registry) validateModel(model *ModelSpec) error {
	if model.CSVFilename == "" {
		return invalidf("model %q has no csv filename", model.Name)
	}

	seen := make(map[string]struct{}, len(model.Headers))

	for _, header := range model.Headers {
		if _, dup := seen[header]; dup {
			return invalidf("model %q has duplicate header %q", model.Name, header)
		}

		seen[header] = struct{}{}
	}

	if _, ok := seen["id"]; !ok {
		return invalidf("model %q is missing the id header", model.Name)
	}

	idField, ok := model.Fields["id"]
	if !ok || !idField.Derived {
		return invalidf("model %q: id must be a derived field", model.Name)
	}

	if _, err := idgen.ParseTemplate(model.IDTemplate); err != nil {
		return invalidf("model %q: %v", model.Name, err)
	}

	orderIndex := indexOf(r.ImportOrder, model.Name)

	for _, field := range model.Fields {
		if _, ok := validFieldTypes[field.Type]; !ok {
			return invalidf("model %q field %q has unknown type %q", model.Name, field.Name, field.Type)
		}

		if _, inHeaders := seen[field.Name]; !inHeaders && !field.Derived {
			return invalidf("model %q field %q is neither a header nor derived", model.Name, field.Name)
		}

		if field.Type == TypeM2O {
			targetIndex := indexOf(r.ImportOrder, field.Target)
			if targetIndex < 0 {
				return invalidf("model %q field %q: m2o target %q is not in import_order",
					model.Name, field.Name, field.Target)
			}

			if targetIndex >= orderIndex {
				return invalidf("model %q field %q: m2o target %q must precede %q in import_order",
					model.Name, field.Name, field.Target, model.Name)
			}
		}

		if field.Type == TypeEnum && field.MapFromSeed != "" {
			if _, ok := r.Seeds[field.MapFromSeed]; !ok {
				return invalidf("model %q field %q: map_from_seed %q is not a defined seed",
					model.Name, field.Name, field.MapFromSeed)
			}
		}
	}

	return nil
}

// validateTopology recomputes the canonical import order from the m2o graph
// and requires the registry's import_order to match it exactly.
func (r *Registry) validateTopology() error {
	g := newGraph()

	for _, name := range r.ImportOrder {
		g.addNode(name)

		for _, field := range r.Models[name].Fields {
			if field.Type == TypeM2O {
				g.addEdge(field.Target, name)
			}
		}
	}

	canonical, err := g.topoSort(r.ImportOrder)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryInvalid, err)
	}

	if !equalStrings(canonical, r.ImportOrder) {
		return invalidf("import_order is not a topological sort of the m2o graph\n  canonical: %s\n  registry:  %s",
			strings.Join(canonical, ", "), strings.Join(r.ImportOrder, ", "))
	}

	return nil
}

func indexOf(s []string, v string) int {
	for i, item := range s {
		if item == v {
			return i
		}
	}

	return -1
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
