// Package emit produces the deterministic CSV artifact for one model from a
// validated frame: external-ID generation with dedup tracking, emit-time
// normalization, defaults and rules, exact header ordering, and a
// byte-stable minimal-quoting CSV encoding.
package emit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/migrator-io/migrator/internal/frame"
	"github.com/migrator-io/migrator/internal/idgen"
	"github.com/migrator-io/migrator/internal/normalize"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/rules"
	"github.com/migrator-io/migrator/internal/storage"
	"github.com/migrator-io/migrator/internal/validate"
)

// ErrHeaderMismatch is returned when the post-write verification finds a
// header line that differs from the model's declared headers. It indicates
// a bug, never bad input data, and aborts the export.
var ErrHeaderMismatch = errors.New("emitted csv header does not match model headers")

// Result reports one model's emit: the artifact path, the external IDs
// written in file (sorted) order, and how many rows collided on a base ID.
type Result struct {
	Path string
	IDs  []string
	Dups int
}

// Emitter writes model CSVs and records duplicate-ID exceptions.
type Emitter struct {
	store     storage.ExceptionStore
	datasetID string
	outputDir string
	logger    *slog.Logger
}

// New creates an emitter writing artifacts under outputDir.
func New(store storage.ExceptionStore, datasetID, outputDir string, logger *slog.Logger) *Emitter {
	return &Emitter{
		store:     store,
		datasetID: datasetID,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Emit writes exactly one CSV for the model from an already-validated
// frame. The steps run in a fixed order so repeated runs over the same
// input produce byte-identical files:
//
//  1. render external IDs with a fresh dedup tracker, recording DUP_EXT_ID
//     exceptions for suffixed rows (which are still emitted)
//  2. apply emit-time normalizers per field transform
//  3. apply defaults and rule expressions
//  4. select and order columns exactly to the model headers
//  5. fill nulls with the empty string and sort rows by external ID
//  6. write CSV (UTF-8, LF, minimal quoting) and verify the header line
func (e *Emitter) Emit(
	ctx context.Context,
	f *frame.Frame,
	model *registry.ModelSpec,
	seeds map[string]*registry.SeedSpec,
) (*Result, error) {
	work := f.Clone()

	dups, err := e.renderExternalIDs(ctx, work, model)
	if err != nil {
		return nil, err
	}

	e.applyNormalizers(work, model, seeds)

	if err := applyDefaultsAndRules(work, model); err != nil {
		return nil, err
	}

	out := work.Select(model.Headers)

	for _, header := range model.Headers {
		if err := out.FillNull(header, ""); err != nil {
			return nil, err
		}
	}

	if err := out.Sort("id"); err != nil {
		return nil, err
	}

	path := filepath.Join(e.outputDir, model.CSVFilename)

	if err := writeCSV(path, model.Headers, out); err != nil {
		return nil, err
	}

	if err := verifyHeaderLine(path, model.Headers); err != nil {
		return nil, err
	}

	idCol, err := out.Column("id")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(idCol))

	for _, cell := range idCol {
		if cell != nil {
			ids = append(ids, *cell)
		}
	}

	return &Result{Path: path, IDs: ids, Dups: dups}, nil
}

// renderExternalIDs computes the id column with a fresh dedup tracker and
// records one DUP_EXT_ID exception per extra occurrence of a base ID. It
// returns the number of duplicates found.
func (e *Emitter) renderExternalIDs(ctx context.Context, f *frame.Frame, model *registry.ModelSpec) (int, error) {
	tpl, err := idgen.ParseTemplate(model.IDTemplate)
	if err != nil {
		return 0, fmt.Errorf("model %s: %w", model.Name, err)
	}

	tracker := idgen.NewTracker()
	ids := make([]*string, f.Len())
	dups := 0

	for i := 0; i < f.Len(); i++ {
		row := f.Row(i)

		id, dup := idgen.RenderID(tpl, row, tracker)
		ids[i] = &id

		if !dup {
			continue
		}

		dups++

		rowPtr := ""
		if ptr := row[validate.SourcePtrColumn]; ptr != nil {
			rowPtr = *ptr
		}

		_, err := e.store.Add(ctx, &storage.Record{
			DatasetID: e.datasetID,
			Model:     model.Name,
			RowPtr:    rowPtr,
			ErrorCode: storage.CodeDupExtID,
			Hint:      fmt.Sprintf("Duplicate external ID (deduplicated as %q)", id),
			Offending: map[string]any{"id": id},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to record duplicate id exception: %w", err)
		}
	}

	return dups, f.WithColumn("id", ids)
}

// normalizers maps registry transform names to normalizer functions.
var normalizers = map[string]func(string) (string, error){
	"normalize_email":    normalize.Email,
	"normalize_phone_us": normalize.PhoneUS,
	"normalize_date_any": normalize.DateAny,
	"coerce_bool":        normalize.Bool,
}

// applyNormalizers runs each field's emit-time transform. Validation has
// already rejected unparsable rows, so a failure here indicates a latent
// bug: the cell degrades to null and the failure is logged, never fatal.
func (e *Emitter) applyNormalizers(f *frame.Frame, model *registry.ModelSpec, seeds map[string]*registry.SeedSpec) {
	for _, name := range model.FieldNames() {
		spec := model.Fields[name]
		if spec.Transform == "" || !f.Has(name) {
			continue
		}

		fn := normalizers[spec.Transform]

		if spec.Transform == "coerce_enum" {
			seed := seeds[spec.MapFromSeed]
			if seed == nil {
				continue
			}

			fn = func(v string) (string, error) {
				return normalize.Enum(v, nil, seed.Synonyms, seed.Canonical)
			}
		}

		if fn == nil {
			e.logger.Warn("unknown transform, leaving values untouched",
				slog.String("model", model.Name),
				slog.String("field", name),
				slog.String("transform", spec.Transform),
			)

			continue
		}

		col, err := f.Column(name)
		if err != nil {
			continue
		}

		normalized := make([]*string, len(col))

		for i, cell := range col {
			if cell == nil || *cell == "" {
				continue
			}

			value, err := fn(*cell)
			if err != nil {
				e.logger.Warn("emit-time normalization failed for validated row",
					slog.String("model", model.Name),
					slog.String("field", name),
					slog.String("value", *cell),
					slog.String("error", err.Error()),
				)

				continue
			}

			normalized[i] = &value
		}

		_ = f.WithColumn(name, normalized)
	}
}

// applyDefaultsAndRules fills defaults for null cells (creating wholly
// missing columns) and evaluates rule expressions into their target
// columns. Rule failures are fatal.
func applyDefaultsAndRules(f *frame.Frame, model *registry.ModelSpec) error {
	for _, name := range model.FieldNames() {
		spec := model.Fields[name]

		if def := spec.DefaultValue(); def != nil {
			if !f.Has(name) {
				col := make([]*string, f.Len())
				for i := range col {
					v := *def
					col[i] = &v
				}

				if err := f.AddColumn(name, col); err != nil {
					return err
				}
			} else if err := f.FillNull(name, *def); err != nil {
				return err
			}
		}

		if spec.Rule == "" {
			continue
		}

		expr, err := rules.Parse(spec.Rule)
		if err != nil {
			return fmt.Errorf("model %s field %s: %w", model.Name, name, err)
		}

		col, err := expr.EvalColumn(f)
		if err != nil {
			return fmt.Errorf("model %s field %s: %w", model.Name, name, err)
		}

		if err := f.WithColumn(name, col); err != nil {
			return err
		}
	}

	return nil
}

// writeCSV encodes the frame with the exact output contract: UTF-8 without
// BOM, LF line terminator, comma separator, and minimal quoting (a field is
// quoted only when it contains a comma, quote, or line break; embedded
// quotes are doubled). The stdlib csv writer also quotes leading-space
// fields, which would break byte-level determinism against this contract,
// so the encoding is done directly.
func writeCSV(path string, headers []string, f *frame.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(file)

	writeRecord(w, headers)

	for i := 0; i < f.Len(); i++ {
		record := make([]string, len(headers))

		for j, header := range headers {
			if cell := f.Value(header, i); cell != nil {
				record[j] = *cell
			}
		}

		writeRecord(w, record)
	}

	if err := w.Flush(); err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	return nil
}

func writeRecord(w *bufio.Writer, record []string) {
	for i, field := range record {
		if i > 0 {
			_ = w.WriteByte(',')
		}

		if needsQuoting(field) {
			_ = w.WriteByte('"')
			_, _ = w.WriteString(strings.ReplaceAll(field, `"`, `""`))
			_ = w.WriteByte('"')

			continue
		}

		_, _ = w.WriteString(field)
	}

	_ = w.WriteByte('\n')
}

func needsQuoting(field string) bool {
	return strings.ContainsAny(field, ",\"\n\r")
}

// verifyHeaderLine re-reads the written file and requires its first line to
// equal the joined model headers exactly.
func verifyHeaderLine(path string, headers []string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen %s for verification: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	reader := bufio.NewReader(file)

	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read header line of %s: %w", path, err)
	}

	got := strings.TrimSuffix(line, "\n")
	want := strings.Join(headers, ",")

	if got != want {
		return fmt.Errorf("%w: %s\n  expected: %s\n  got:      %s", ErrHeaderMismatch, path, want, got)
	}

	return nil
}
