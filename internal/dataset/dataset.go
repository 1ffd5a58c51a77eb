// Package dataset holds the in-memory named tables moved from the extract
// adapter to the warehouse. Every value is text; an empty string is loaded
// as NULL.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoColumn is returned when a required column is missing.
var ErrNoColumn = errors.New("dataset: column not found")

// Named is a columnar dataset whose Name is the warehouse table it loads into.
type Named struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows.
func (d Named) Len() int { return len(d.Rows) }

// ColumnIndex returns the position of column name, or -1.
func (d Named) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of column name.
func (d Named) Column(name string) ([]string, error) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoColumn, d.Name, name)
	}
	out := make([]string, len(d.Rows))
	for i, r := range d.Rows {
		if idx < len(r) {
			out[i] = r[idx]
		}
	}
	return out, nil
}

// Filter returns a dataset with the same name and columns holding the rows
// for which keep returns true. Row slices are shared, not copied.
func (d Named) Filter(keep func(row []string) bool) Named {
	out := Named{Name: d.Name, Columns: d.Columns}
	for _, r := range d.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// FilterIn keeps rows whose column value is in values.
func (d Named) FilterIn(column string, values []string) (Named, error) {
	idx := d.ColumnIndex(column)
	if idx < 0 {
		return Named{}, fmt.Errorf("%w: %s.%s", ErrNoColumn, d.Name, column)
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return d.Filter(func(r []string) bool {
		if idx >= len(r) {
			return false
		}
		_, ok := set[r[idx]]
		return ok
	}), nil
}

// StagedFileName returns "<schema>.<table>.csv".
func StagedFileName(schema, table string) string {
	if schema == "" {
		return table + ".csv"
	}
	return schema + "." + table + ".csv"
}

// Stage writes d into dir as a headerless delim-separated file named by
// StagedFileName and returns its path. Fields containing the delimiter,
// quotes or newlines are quoted.
func (d Named) Stage(dir, schema string, delim rune) (string, error) {
	if delim == 0 {
		delim = ';'
	}
	path := filepath.Join(dir, StagedFileName(schema, d.Name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("dataset: create staged file: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = delim
	for i, r := range d.Rows {
		if len(r) != len(d.Columns) {
			_ = f.Close()
			return "", fmt.Errorf("dataset: %s row %d has %d fields; want %d", d.Name, i, len(r), len(d.Columns))
		}
		if err := w.Write(r); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("dataset: write staged file: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("dataset: flush staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("dataset: close staged file: %w", err)
	}
	return path, nil
}
