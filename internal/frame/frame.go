// Package frame provides a minimal columnar table used by the export pipeline.
//
// A Frame is a set of named, ordered columns of nullable text values. All data
// crossing validation and emission is carried as text; typed interpretation
// (dates, booleans, enums) happens in the validator and the normalizers.
// Nullability is first-class: a nil cell is distinct from an empty string.
package frame

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrColumnNotFound is returned when an operation references a column
	// that does not exist in the frame.
	ErrColumnNotFound = errors.New("column not found")
	// ErrLengthMismatch is returned when a column of the wrong length is
	// added to a non-empty frame.
	ErrLengthMismatch = errors.New("column length mismatch")
	// ErrDuplicateColumn is returned when adding a column whose name is
	// already present.
	ErrDuplicateColumn = errors.New("duplicate column")
)

// Frame is a columnar, nullable, strings-only table.
//
// Column order is significant and preserved across operations; row order is
// preserved except by Sort. A Frame is not safe for concurrent mutation.
type Frame struct {
	names []string
	cols  map[string][]*string
	rows  int
}

// New creates an empty frame with no columns and no rows.
func New() *Frame {
	return &Frame{
		cols: make(map[string][]*string),
	}
}

// Str returns a pointer to s, for building nullable cells in literals.
func Str(s string) *string {
	return &s
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return f.rows
}

// Names returns the column names in order. The returned slice is a copy.
func (f *Frame) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)

	return out
}

// Has reports whether the frame contains a column with the given name.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]

	return ok
}

// Column returns the values of a named column. The returned slice is shared
// with the frame; callers must not mutate it.
func (f *Frame) Column(name string) ([]*string, error) {
	col, ok := f.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}

	return col, nil
}

// Value returns the cell at (name, row), or nil when the cell is null.
// It panics on out-of-range rows, mirroring slice indexing.
func (f *Frame) Value(name string, row int) *string {
	col, ok := f.cols[name]
	if !ok {
		return nil
	}

	return col[row]
}

// AddColumn appends a new column. The first column fixes the row count;
// subsequent columns must match it.
func (f *Frame) AddColumn(name string, values []*string) error {
	if _, exists := f.cols[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}

	if len(f.names) > 0 && len(values) != f.rows {
		return fmt.Errorf("%w: column %q has %d values, frame has %d rows",
			ErrLengthMismatch, name, len(values), f.rows)
	}

	if len(f.names) == 0 {
		f.rows = len(values)
	}

	f.names = append(f.names, name)
	f.cols[name] = values

	return nil
}

// WithColumn sets a column, replacing an existing one of the same name or
// appending a new one. Replacement keeps the column's original position.
func (f *Frame) WithColumn(name string, values []*string) error {
	if _, exists := f.cols[name]; exists {
		if len(values) != f.rows {
			return fmt.Errorf("%w: column %q has %d values, frame has %d rows",
				ErrLengthMismatch, name, len(values), f.rows)
		}

		f.cols[name] = values

		return nil
	}

	return f.AddColumn(name, values)
}

// Set assigns a single cell. A nil value makes the cell null.
func (f *Frame) Set(name string, row int, value *string) error {
	col, ok := f.cols[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}

	col[row] = value

	return nil
}

// Rename changes a column's name in place, preserving its position.
func (f *Frame) Rename(from, to string) error {
	col, ok := f.cols[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, from)
	}

	if from == to {
		return nil
	}

	if _, exists := f.cols[to]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, to)
	}

	for i, n := range f.names {
		if n == from {
			f.names[i] = to

			break
		}
	}

	delete(f.cols, from)
	f.cols[to] = col

	return nil
}

// FillNull replaces null cells of a column with the given value.
func (f *Frame) FillNull(name, value string) error {
	col, ok := f.cols[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}

	for i, cell := range col {
		if cell == nil {
			v := value
			col[i] = &v
		}
	}

	return nil
}

// Select returns a new frame containing exactly the requested columns in the
// requested order. Columns absent from the frame materialize as all-null.
func (f *Frame) Select(names []string) *Frame {
	out := &Frame{
		names: make([]string, 0, len(names)),
		cols:  make(map[string][]*string, len(names)),
		rows:  f.rows,
	}

	for _, name := range names {
		src, ok := f.cols[name]

		col := make([]*string, f.rows)
		if ok {
			copy(col, src)
		}

		out.names = append(out.names, name)
		out.cols[name] = col
	}

	return out
}

// Filter returns a new frame containing only the rows where keep[i] is true.
func (f *Frame) Filter(keep []bool) *Frame {
	out := &Frame{
		names: make([]string, len(f.names)),
		cols:  make(map[string][]*string, len(f.names)),
	}
	copy(out.names, f.names)

	kept := 0

	for _, k := range keep {
		if k {
			kept++
		}
	}

	for _, name := range f.names {
		src := f.cols[name]
		dst := make([]*string, 0, kept)

		for i, k := range keep {
			if k {
				dst = append(dst, src[i])
			}
		}

		out.cols[name] = dst
	}

	out.rows = kept

	return out
}

// Sort reorders rows ascending by the named column, lexicographically by
// byte value. Null cells sort before empty strings. The sort is stable so
// equal keys keep their input order.
func (f *Frame) Sort(by string) error {
	key, ok := f.cols[by]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, by)
	}

	idx := make([]int, f.rows)
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := key[idx[a]], key[idx[b]]

		switch {
		case va == nil && vb == nil:
			return false
		case va == nil:
			return true
		case vb == nil:
			return false
		default:
			return *va < *vb
		}
	})

	for _, name := range f.names {
		src := f.cols[name]
		dst := make([]*string, f.rows)

		for pos, i := range idx {
			dst[pos] = src[i]
		}

		f.cols[name] = dst
	}

	return nil
}

// Row returns row i as a map from column name to cell value. Null cells map
// to nil. The map is freshly allocated per call.
func (f *Frame) Row(i int) map[string]*string {
	row := make(map[string]*string, len(f.names))
	for _, name := range f.names {
		row[name] = f.cols[name][i]
	}

	return row
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		names: make([]string, len(f.names)),
		cols:  make(map[string][]*string, len(f.names)),
		rows:  f.rows,
	}
	copy(out.names, f.names)

	for name, src := range f.cols {
		dst := make([]*string, len(src))
		copy(dst, src)
		out.cols[name] = dst
	}

	return out
}
