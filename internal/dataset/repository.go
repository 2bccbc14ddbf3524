// Package dataset is the boundary to the upstream ingest collaborator: it
// provides tabular frames for a dataset's sheets and the confirmed
// column-to-field mappings the export consumes.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/migrator-io/migrator/internal/frame"
)

// Sentinel errors for dataset access.
var (
	// ErrDatasetNotFound is returned when no data exists for a dataset ID.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrSheetNotFound is returned when a named sheet does not exist, or
	// when no sheet name was given and the dataset is not single-sheet.
	ErrSheetNotFound = errors.New("sheet not found")
)

// Repository produces tabular frames for dataset sheets. The dataset itself
// is opaque to the export core: upstream owns upload, profiling, and
// cleaning; the core only needs named columns of nullable text.
type Repository interface {
	// Frame returns the named sheet of a dataset as a frame. An empty
	// sheet name selects the dataset's only sheet and fails when the
	// dataset has more than one.
	Frame(ctx context.Context, datasetID, sheet string) (*frame.Frame, error)
}

// DirRepository reads datasets from a directory tree:
// <root>/<dataset_id>/<sheet>.csv. Empty cells load as null.
type DirRepository struct {
	root string
}

// NewDirRepository creates a repository rooted at the given directory.
func NewDirRepository(root string) *DirRepository {
	return &DirRepository{root: root}
}

// Frame implements Repository.
func (r *DirRepository) Frame(_ context.Context, datasetID, sheet string) (*frame.Frame, error) {
	dir := filepath.Join(r.root, datasetID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}

	var sheets []string

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".csv") {
			sheets = append(sheets, strings.TrimSuffix(entry.Name(), ".csv"))
		}
	}

	sort.Strings(sheets)

	if sheet == "" {
		if len(sheets) != 1 {
			return nil, fmt.Errorf("%w: dataset %s has %d sheets, a sheet name is required",
				ErrSheetNotFound, datasetID, len(sheets))
		}

		sheet = sheets[0]
	}

	path := filepath.Join(dir, sheet+".csv")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSheetNotFound, datasetID, sheet)
	}

	defer func() {
		_ = file.Close()
	}()

	return ReadCSV(file)
}

// ReadCSV loads a CSV document into a frame. The first record is the header
// row; empty cells become null. Ragged rows are rejected by the reader.
func ReadCSV(reader io.Reader) (*frame.Frame, error) {
	cr := csv.NewReader(reader)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	columns := make([][]*string, len(header))

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		for i := range header {
			var cell *string

			if i < len(record) && record[i] != "" {
				v := record[i]
				cell = &v
			}

			columns[i] = append(columns[i], cell)
		}
	}

	f := frame.New()

	for i, name := range header {
		if err := f.AddColumn(name, columns[i]); err != nil {
			return nil, fmt.Errorf("invalid csv header: %w", err)
		}
	}

	return f, nil
}
