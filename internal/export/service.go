// Package export orchestrates the deterministic export pipeline: for each
// model in registry import order, resolve mappings, build a frame, validate,
// emit CSV, feed the FK cache, and finally bundle the artifacts into a ZIP.
package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/migrator-io/migrator/internal/dataset"
	"github.com/migrator-io/migrator/internal/emit"
	"github.com/migrator-io/migrator/internal/frame"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/storage"
	"github.com/migrator-io/migrator/internal/transform"
	"github.com/migrator-io/migrator/internal/validate"
)

// Service runs exports. One Service handles one export at a time per call;
// parallel exports across datasets each get their own FK cache and dedup
// state, sharing only the exceptions store.
type Service struct {
	loader       *registry.Loader
	store        storage.ExceptionStore
	datasets     dataset.Repository
	mappings     dataset.MappingStore
	catalog      *transform.Catalog
	artifactRoot string
	logger       *slog.Logger
}

// NewService wires an export service from its collaborators.
func NewService(
	loader *registry.Loader,
	store storage.ExceptionStore,
	datasets dataset.Repository,
	mappings dataset.MappingStore,
	artifactRoot string,
	logger *slog.Logger,
) *Service {
	return &Service{
		loader:       loader,
		store:        store,
		datasets:     datasets,
		mappings:     mappings,
		catalog:      transform.NewCatalog(),
		artifactRoot: artifactRoot,
		logger:       logger,
	}
}

// Export runs the full pipeline for a dataset and returns its summary.
// Per-row problems become exception records and never abort the run; the
// error return carries only fatal *Error failures. Artifacts written before
// a fatal failure remain on disk, and a re-run starts by clearing the
// dataset's exceptions and overwriting its artifacts.
func (s *Service) Export(ctx context.Context, datasetID string) (*Result, error) {
	reg, err := s.loader.Load()
	if err != nil {
		return nil, fatal("", err)
	}

	if _, err := s.store.Clear(ctx, datasetID, ""); err != nil {
		return nil, fatal("", err)
	}

	outputDir := filepath.Join(s.artifactRoot, datasetID)
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fatal("", err)
	}

	fk := NewFKCache()
	emitter := emit.New(s.store, datasetID, outputDir, s.logger)
	validator := validate.New(s.store, fk, datasetID)

	result := &Result{
		DatasetID:        datasetID,
		ExceptionsByCode: make(map[string]int),
	}

	for _, modelName := range reg.ImportOrder {
		model := reg.Models[modelName]

		summary, err := s.exportModel(ctx, datasetID, model, reg, validator, emitter, fk, result.ExceptionsByCode)
		if err != nil {
			return nil, err
		}

		if summary == nil {
			continue // nothing mapped for this model
		}

		result.Models = append(result.Models, *summary)
		result.TotalEmitted += summary.RowsEmitted
	}

	zipPath := filepath.Join(outputDir, fmt.Sprintf("odoo_export_%s.zip", datasetID))

	if err := createZip(zipPath, outputDir, result.Models); err != nil {
		return nil, fatal("", err)
	}

	result.ZipPath = zipPath

	for _, n := range result.ExceptionsByCode {
		result.TotalExceptions += n
	}

	s.logger.Info("export completed",
		slog.String("dataset_id", datasetID),
		slog.String("zip_path", zipPath),
		slog.Int("total_emitted", result.TotalEmitted),
		slog.Int("total_exceptions", result.TotalExceptions),
	)

	return result, nil
}

// exportModel runs one model through mapping, validation, and emit. It
// returns nil when the model has no confirmed mappings or no data.
func (s *Service) exportModel(
	ctx context.Context,
	datasetID string,
	model *registry.ModelSpec,
	reg *registry.Registry,
	validator *validate.Validator,
	emitter *emit.Emitter,
	fk *FKCache,
	byCode map[string]int,
) (*ModelSummary, error) {
	mappings, err := s.mappings.Confirmed(ctx, datasetID, model.Name)
	if err != nil {
		return nil, fatal(model.Name, err)
	}

	if len(mappings) == 0 {
		return nil, nil
	}

	f, err := s.datasets.Frame(ctx, datasetID, mappings[0].Sheet)
	if err != nil {
		if errors.Is(err, dataset.ErrDatasetNotFound) || errors.Is(err, dataset.ErrSheetNotFound) {
			s.logger.Warn("no data for mapped model, skipping",
				slog.String("dataset_id", datasetID),
				slog.String("model", model.Name),
				slog.String("error", err.Error()),
			)

			return nil, nil
		}

		return nil, fatal(model.Name, err)
	}

	ensureSourcePtr(f)

	mapped := s.applyMappings(f, mappings, model)

	vres, err := validator.Validate(ctx, mapped, model, reg.Seeds)
	if err != nil {
		return nil, fatal(model.Name, err)
	}

	for code, n := range vres.ByCode {
		byCode[code] += n
	}

	// Emit even when every row failed validation: the header-only CSV is
	// part of the contract, and downstream models then fail FK resolution
	// row by row instead of crashing.
	eres, err := emitter.Emit(ctx, vres.Valid, model, reg.Seeds)
	if err != nil {
		return nil, fatal(model.Name, err)
	}

	if eres.Dups > 0 {
		byCode[storage.CodeDupExtID] += eres.Dups
	}

	fk.Add(model.Name, eres.IDs)

	s.logger.Info("model emitted",
		slog.String("dataset_id", datasetID),
		slog.String("model", model.Name),
		slog.Int("rows_emitted", vres.Valid.Len()),
		slog.Int("exceptions", vres.ExceptionCount+eres.Dups),
	)

	return &ModelSummary{
		Model:           model.Name,
		CSVFilename:     model.CSVFilename,
		RowsEmitted:     vres.Valid.Len(),
		ExceptionsCount: vres.ExceptionCount + eres.Dups,
	}, nil
}

// ensureSourcePtr synthesizes row_<i> pointers when the upstream frame
// carries none.
func ensureSourcePtr(f *frame.Frame) {
	if f.Has(validate.SourcePtrColumn) {
		return
	}

	col := make([]*string, f.Len())
	for i := range col {
		ptr := fmt.Sprintf("row_%d", i)
		col[i] = &ptr
	}

	_ = f.AddColumn(validate.SourcePtrColumn, col)
}

// applyMappings builds the model-shaped frame: mapped source columns
// renamed to their target fields with each mapping's transform chain
// applied per cell. A failed transform leaves the cell's value as it was.
// Required fields with registry defaults that no mapping covered are
// populated so validation sees them.
func (s *Service) applyMappings(f *frame.Frame, mappings []*dataset.Mapping, model *registry.ModelSpec) *frame.Frame {
	out := frame.New()

	for _, m := range mappings {
		if !f.Has(m.SourceColumn) {
			s.logger.Warn("mapped source column not in sheet",
				slog.String("model", model.Name),
				slog.String("source_column", m.SourceColumn),
			)

			continue
		}

		if out.Has(m.TargetField) {
			continue // first confirmed mapping wins
		}

		src, _ := f.Column(m.SourceColumn)
		col := make([]*string, len(src))

		for i, cell := range src {
			if cell == nil {
				continue
			}

			value := *cell

			for _, step := range m.Transforms {
				next, err := s.catalog.Apply(step.Fn, value, step.Params)
				if err != nil {
					s.logger.Debug("transform failed, keeping original value",
						slog.String("model", model.Name),
						slog.String("field", m.TargetField),
						slog.String("transform", step.Fn),
						slog.String("error", err.Error()),
					)

					continue
				}

				value = next
			}

			if value != "" {
				v := value
				col[i] = &v
			}
		}

		_ = out.AddColumn(m.TargetField, col)
	}

	for _, name := range model.FieldNames() {
		spec := model.Fields[name]
		if !spec.Required || out.Has(name) {
			continue
		}

		if def := spec.DefaultValue(); def != nil {
			col := make([]*string, f.Len())
			for i := range col {
				v := *def
				col[i] = &v
			}

			_ = out.AddColumn(name, col)
		}
	}

	if ptrs, err := f.Column(validate.SourcePtrColumn); err == nil && !out.Has(validate.SourcePtrColumn) {
		col := make([]*string, len(ptrs))
		copy(col, ptrs)

		_ = out.AddColumn(validate.SourcePtrColumn, col)
	}

	return out
}

// createZip bundles the emitted CSVs, in import order, into a deflate ZIP.
// Entry headers carry no timestamps so repeated runs produce byte-identical
// archives.
func createZip(zipPath, outputDir string, summaries []ModelSummary) error {
	file, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}

	zw := zip.NewWriter(file)

	for _, summary := range summaries {
		csvPath := filepath.Join(outputDir, summary.CSVFilename)

		src, err := os.Open(csvPath)
		if err != nil {
			_ = zw.Close()
			_ = file.Close()

			return fmt.Errorf("failed to open artifact %s: %w", csvPath, err)
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:   summary.CSVFilename,
			Method: zip.Deflate,
		})
		if err == nil {
			_, err = io.Copy(entry, src)
		}

		_ = src.Close()

		if err != nil {
			_ = zw.Close()
			_ = file.Close()

			return fmt.Errorf("failed to add %s to zip: %w", summary.CSVFilename, err)
		}
	}

	if err := zw.Close(); err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to finalize zip: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close zip: %w", err)
	}

	return nil
}
