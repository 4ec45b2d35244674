package types

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// FieldType is the logical type of a table column, following the
// table-schema vocabulary used by the row-oriented JSON table format.
type FieldType string

const (
	FieldTypeInteger  FieldType = "integer"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeString   FieldType = "string"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeBinary   FieldType = "binary"
	FieldTypeAny      FieldType = "any"
)

// Field describes one table column.
type Field struct {
	Name string    `json:"name" bson:"name"`
	Type FieldType `json:"type" bson:"type"`
}

// Table is an in-memory, column-ordered relational value. Cells are
// normalised on construction: signed and unsigned integers become int64,
// float32 becomes float64 and times are stored in UTC.
type Table struct {
	Fields []Field
	Rows   [][]any
}

// NewTable builds a table from column names and rows, inferring field types.
func NewTable(columns []string, rows [][]any) (*Table, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("duplicate column name %q", c)
		}
		seen[c] = true
	}

	normalized := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(columns))
		}
		out := make([]any, len(row))
		for j, cell := range row {
			out[j] = NormalizeCell(cell)
		}
		normalized[i] = out
	}

	fields := make([]Field, len(columns))
	for j, name := range columns {
		col := make([]any, len(normalized))
		for i := range normalized {
			col[i] = normalized[i][j]
		}
		fields[j] = Field{Name: name, Type: InferFieldType(col)}
		if fields[j].Type == FieldTypeNumber {
			for i := range normalized {
				if n, ok := normalized[i][j].(int64); ok {
					normalized[i][j] = float64(n)
				}
			}
		}
	}
	return &Table{Fields: fields, Rows: normalized}, nil
}

// TableFromRecords builds a table from maps keyed by column name. Missing keys
// become nil cells.
func TableFromRecords(columns []string, records []map[string]any) (*Table, error) {
	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = rec[c]
		}
		rows[i] = row
	}
	return NewTable(columns, rows)
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.Fields) }

// ColumnNames returns the ordered column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// ColumnIndex returns the position of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of a column's cells.
func (t *Table) Column(name string) ([]any, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	col := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		col[i] = row[idx]
	}
	return col, true
}

// Record returns row i as a map.
func (t *Table) Record(i int) map[string]any {
	rec := make(map[string]any, len(t.Fields))
	for j, f := range t.Fields {
		rec[f.Name] = t.Rows[i][j]
	}
	return rec
}

// Schema returns the metadata-file schema representation: one single-entry
// object per column, in column order.
func (t *Table) Schema() []map[string]string {
	schema := make([]map[string]string, len(t.Fields))
	for i, f := range t.Fields {
		schema[i] = map[string]string{f.Name: string(f.Type)}
	}
	return schema
}

// Equal reports whether two tables have the same schema and cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Fields) != len(o.Fields) || len(t.Rows) != len(o.Rows) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != o.Fields[i] {
			return false
		}
	}
	for i := range t.Rows {
		for j := range t.Rows[i] {
			if !CellsEqual(t.Rows[i][j], o.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// NormalizeCell converts a Go value to the canonical cell representation.
func NormalizeCell(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	default:
		return v
	}
}

// CellsEqual compares two normalised cells.
func CellsEqual(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case float64:
		y, ok := b.(float64)
		if !ok {
			return false
		}
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	default:
		return a == b
	}
}

// InferFieldType picks the narrowest field type for a column of normalised
// cells. Nil cells are ignored; an all-nil column is "any".
func InferFieldType(cells []any) FieldType {
	var result FieldType
	for _, c := range cells {
		var ft FieldType
		switch c.(type) {
		case nil:
			continue
		case int64:
			ft = FieldTypeInteger
		case float64:
			ft = FieldTypeNumber
		case bool:
			ft = FieldTypeBoolean
		case string:
			ft = FieldTypeString
		case time.Time:
			ft = FieldTypeDatetime
		case []byte:
			ft = FieldTypeBinary
		default:
			return FieldTypeAny
		}
		switch {
		case result == "":
			result = ft
		case result == ft:
		case (result == FieldTypeInteger && ft == FieldTypeNumber) || (result == FieldTypeNumber && ft == FieldTypeInteger):
			result = FieldTypeNumber
		default:
			return FieldTypeAny
		}
	}
	if result == "" {
		return FieldTypeAny
	}
	return result
}
