// Package validate performs the per-row admission pass of the export
// pipeline: typed checks against the model spec, exception tracking, and
// selection of the valid row subset.
//
// Validation never mutates cell values; normalization happens at emit time.
// Each row receives at most one exception per pass: the checks run in a
// fixed order and the first failure wins, excluding the row from the valid
// frame.
package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/migrator-io/migrator/internal/frame"
	"github.com/migrator-io/migrator/internal/normalize"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/storage"
)

// SourcePtrColumn is the stable per-row identifier column every frame must
// carry before validation; it becomes row_ptr on exception records.
const SourcePtrColumn = "source_ptr"

// ErrSourcePtrMissing is returned when the input frame lacks the source_ptr
// column.
var ErrSourcePtrMissing = errors.New("frame is missing the source_ptr column")

// FKResolver reports whether a parent model has emitted a given external ID
// in this export run. Implemented by the export package's FK cache.
type FKResolver interface {
	Contains(model, externalID string) bool
}

// Result summarizes one validation pass.
type Result struct {
	// Valid contains the rows that passed every check, in input order.
	Valid *frame.Frame
	// ExceptionCount is the number of rows excluded.
	ExceptionCount int
	// ByCode histograms the exceptions by error code.
	ByCode map[string]int
}

// Validator checks frames against model specs and records exceptions.
type Validator struct {
	store     storage.ExceptionStore
	fk        FKResolver
	datasetID string
}

// New creates a validator writing exceptions for the given dataset.
func New(store storage.ExceptionStore, fk FKResolver, datasetID string) *Validator {
	return &Validator{store: store, fk: fk, datasetID: datasetID}
}

// check is one typed admission check: it returns the failing error code and
// hint for a row, or "" when the row passes.
type check func(row map[string]*string) (code, hint, field string, value *string)

// Validate runs the admission pass for one model. Exceptions are persisted
// through the store during the call; the error return is reserved for
// infrastructure failures (store unavailable, malformed frame), which are
// fatal for the export.
func (v *Validator) Validate(
	ctx context.Context,
	f *frame.Frame,
	model *registry.ModelSpec,
	seeds map[string]*registry.SeedSpec,
) (*Result, error) {
	if !f.Has(SourcePtrColumn) {
		return nil, ErrSourcePtrMissing
	}

	checks := v.buildChecks(model, seeds)

	keep := make([]bool, f.Len())
	byCode := make(map[string]int)
	excluded := 0

	for i := 0; i < f.Len(); i++ {
		row := f.Row(i)
		keep[i] = true

		for _, chk := range checks {
			code, hint, field, value := chk(row)
			if code == "" {
				continue
			}

			rowPtr := ""
			if ptr := row[SourcePtrColumn]; ptr != nil {
				rowPtr = *ptr
			}

			offending := map[string]any{"field": field}
			if value != nil {
				offending["value"] = *value
			}

			_, err := v.store.Add(ctx, &storage.Record{
				DatasetID: v.datasetID,
				Model:     model.Name,
				RowPtr:    rowPtr,
				ErrorCode: code,
				Hint:      hint,
				Offending: offending,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to record exception: %w", err)
			}

			byCode[code]++

			keep[i] = false
			excluded++

			break // at most one exception per row per pass
		}
	}

	return &Result{
		Valid:          f.Filter(keep),
		ExceptionCount: excluded,
		ByCode:         byCode,
	}, nil
}

// buildChecks assembles the ordered check list for a model. Check order is
// fixed by contract: required, email, phone, date, bool, enum, fk.
func (v *Validator) buildChecks(model *registry.ModelSpec, seeds map[string]*registry.SeedSpec) []check {
	fieldNames := model.FieldNames()

	var checks []check

	checks = append(checks, requiredCheck(model, fieldNames))
	checks = append(checks, normalizerCheck(model, fieldNames, registry.TypeEmail, storage.CodeInvalidEmail, normalize.Email))
	checks = append(checks, normalizerCheck(model, fieldNames, registry.TypePhone, storage.CodeInvalidPhone, normalize.PhoneUS))
	checks = append(checks, normalizerCheck(model, fieldNames, registry.TypeDate, storage.CodeDateParseFail, normalize.DateAny))
	checks = append(checks, normalizerCheck(model, fieldNames, registry.TypeBool, storage.CodeBoolParseFail, normalize.Bool))
	checks = append(checks, enumCheck(model, fieldNames, seeds))
	checks = append(checks, v.fkCheck(model, fieldNames))

	return checks
}

func isBlank(v *string) bool {
	return v == nil || *v == ""
}

// requiredCheck flags the first required, non-derived field that is null or
// empty.
func requiredCheck(model *registry.ModelSpec, fieldNames []string) check {
	var required []string

	for _, name := range fieldNames {
		spec := model.Fields[name]
		if spec.Required && !spec.Derived {
			required = append(required, name)
		}
	}

	return func(row map[string]*string) (string, string, string, *string) {
		for _, name := range required {
			if isBlank(row[name]) {
				return storage.CodeReqMissing,
					fmt.Sprintf("Required field %q is missing or empty", name),
					name, row[name]
			}
		}

		return "", "", "", nil
	}
}

// normalizerCheck flags the first field of the given type whose non-null
// value the normalizer rejects. The normalizer's message becomes the hint.
func normalizerCheck(
	model *registry.ModelSpec,
	fieldNames []string,
	fieldType registry.FieldType,
	code string,
	fn func(string) (string, error),
) check {
	var typed []string

	for _, name := range fieldNames {
		if model.Fields[name].Type == fieldType {
			typed = append(typed, name)
		}
	}

	return func(row map[string]*string) (string, string, string, *string) {
		for _, name := range typed {
			value := row[name]
			if isBlank(value) {
				continue
			}

			if _, err := fn(*value); err != nil {
				return code, err.Error(), name, value
			}
		}

		return "", "", "", nil
	}
}

// enumCheck resolves enum fields against their seed vocabulary. A null enum
// cell is permitted only on optional fields.
func enumCheck(model *registry.ModelSpec, fieldNames []string, seeds map[string]*registry.SeedSpec) check {
	type enumField struct {
		name      string
		optional  bool
		synonyms  map[string]string
		canonical map[string]struct{}
	}

	var fields []enumField

	for _, name := range fieldNames {
		spec := model.Fields[name]
		if spec.Type != registry.TypeEnum {
			continue
		}

		ef := enumField{name: name, optional: spec.Optional}

		if seed, ok := seeds[spec.MapFromSeed]; ok {
			ef.synonyms = seed.Synonyms
			ef.canonical = seed.Canonical
		}

		fields = append(fields, ef)
	}

	return func(row map[string]*string) (string, string, string, *string) {
		for _, ef := range fields {
			value := row[ef.name]

			if isBlank(value) {
				if !ef.optional {
					return storage.CodeEnumUnknown,
						fmt.Sprintf("Enum field %q has no value and is not optional", ef.name),
						ef.name, value
				}

				continue
			}

			if _, err := normalize.Enum(*value, nil, ef.synonyms, ef.canonical); err != nil {
				return storage.CodeEnumUnknown, err.Error(), ef.name, value
			}
		}

		return "", "", "", nil
	}
}

// fkCheck verifies m2o references against the external IDs emitted for the
// parent model earlier in this run.
func (v *Validator) fkCheck(model *registry.ModelSpec, fieldNames []string) check {
	type fkField struct {
		name   string
		target string
	}

	var fields []fkField

	for _, name := range fieldNames {
		spec := model.Fields[name]
		if spec.Type == registry.TypeM2O {
			fields = append(fields, fkField{name: name, target: spec.Target})
		}
	}

	return func(row map[string]*string) (string, string, string, *string) {
		for _, fk := range fields {
			value := row[fk.name]
			if isBlank(value) {
				continue
			}

			if v.fk == nil || !v.fk.Contains(fk.target, *value) {
				return storage.CodeFKUnresolved,
					fmt.Sprintf("No emitted %s row with external id %q", fk.target, *value),
					fk.name, value
			}
		}

		return "", "", "", nil
	}
}
