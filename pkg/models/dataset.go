package models

import (
	"strings"
	"time"
)

// ColumnType is the storage type of a dataset column.
type ColumnType string

const (
	ColumnTimestamp ColumnType = "timestamp"
	ColumnFloat     ColumnType = "float"
	ColumnInteger   ColumnType = "integer"
	ColumnText      ColumnType = "text"
)

// Column is a dataset column. Providers that group series by field and then by symbol
// return several levels, e.g. ["Close", "AMZN"].
type Column struct {
	Levels []string   `json:"levels"`
	Type   ColumnType `json:"type"`
}

// Name returns the column label. Multi-level labels are joined with an underscore.
func (c Column) Name() string {
	return strings.Join(c.Levels, "_")
}

// Dataset is a tabular time series for one entity, indexed by date until ResetIndex is called.
type Dataset struct {
	IndexName string      `json:"index_name,omitempty"`
	Index     []time.Time `json:"index,omitempty"`
	Columns   []Column    `json:"columns"`
	Rows      [][]any     `json:"rows"`
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}

	return len(d.Rows)
}

func (d *Dataset) Empty() bool {
	return d.Len() == 0
}

// IsMultiLevel reports whether any column carries more than one label level.
func (d *Dataset) IsMultiLevel() bool {
	for _, column := range d.Columns {
		if len(column.Levels) > 1 {
			return true
		}
	}

	return false
}

// Flatten keeps only the first label level of every column.
func (d *Dataset) Flatten() {
	for i, column := range d.Columns {
		if len(column.Levels) > 1 {
			d.Columns[i].Levels = column.Levels[:1]
		}
	}
}

// ResetIndex moves the date index into a regular leading column.
func (d *Dataset) ResetIndex() {
	if d.Index == nil {
		return
	}

	name := d.IndexName
	if name == "" {
		name = "index"
	}

	d.Columns = append([]Column{{Levels: []string{name}, Type: ColumnTimestamp}}, d.Columns...)

	for i, row := range d.Rows {
		d.Rows[i] = append([]any{d.Index[i]}, row...)
	}

	d.Index = nil
	d.IndexName = ""
}

// NormalizeColumns lower-cases column names and replaces spaces with underscores.
// When two columns normalize to the same name only the first one is kept.
func (d *Dataset) NormalizeColumns() {
	seen := make(map[string]bool, len(d.Columns))
	keep := make([]int, 0, len(d.Columns))

	for i, column := range d.Columns {
		name := NormalizeColumnName(column.Name())
		if seen[name] {
			continue
		}

		seen[name] = true
		d.Columns[i].Levels = []string{name}
		keep = append(keep, i)
	}

	if len(keep) == len(d.Columns) {
		return
	}

	columns := make([]Column, 0, len(keep))
	for _, i := range keep {
		columns = append(columns, d.Columns[i])
	}

	for r, row := range d.Rows {
		values := make([]any, 0, len(keep))
		for _, i := range keep {
			if i < len(row) {
				values = append(values, row[i])
			}
		}

		d.Rows[r] = values
	}

	d.Columns = columns
}

// ColumnNames returns the current single-level column names.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, column := range d.Columns {
		names[i] = column.Name()
	}

	return names
}

func NormalizeColumnName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
