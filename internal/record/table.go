package record

import (
	"github.com/pkg/errors"
)

// Table is a bulk record set with a fixed column order. A nil cell is null.
// Tables are never mutated after construction; transforms return a new Table.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]*string
}

// Row gives read access to a single record of a Table.
type Row struct {
	table *Table
	cells []*string
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []string) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, errors.Errorf("column %d has an empty name", i)
		}
		if _, ok := index[c]; ok {
			return nil, errors.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{columns: cols, index: index}, nil
}

// MustTable is NewTable for tests and fixed schemas; it panics on error.
func MustTable(columns []string, rows ...[]*string) *Table {
	t, err := NewTable(columns)
	if err != nil {
		panic(err)
	}
	for _, r := range rows {
		if err := t.append(r); err != nil {
			panic(err)
		}
	}
	return t
}

func (t *Table) append(cells []*string) error {
	if len(cells) != len(t.columns) {
		return errors.Errorf("row has %d cells, table has %d columns", len(cells), len(t.columns))
	}
	t.rows = append(t.rows, cells)
	return nil
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	cols := make([]string, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// Has reports whether the table carries the named column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row {
	return Row{table: t, cells: t.rows[i]}
}

// Each calls fn for every row in order.
func (t *Table) Each(fn func(i int, r Row)) {
	for i, cells := range t.rows {
		fn(i, Row{table: t, cells: cells})
	}
}

// WithColumn returns a new table where column is computed by fn for each row.
// An existing column is replaced in place, a new one is appended.
func (t *Table) WithColumn(column string, fn func(r Row) *string) *Table {
	pos, exists := t.index[column]
	out := &Table{
		columns: t.Columns(),
		index:   make(map[string]int, len(t.index)+1),
		rows:    make([][]*string, len(t.rows)),
	}
	for k, v := range t.index {
		out.index[k] = v
	}
	if !exists {
		pos = len(out.columns)
		out.columns = append(out.columns, column)
		out.index[column] = pos
	}
	for i, cells := range t.rows {
		next := make([]*string, len(out.columns))
		copy(next, cells)
		next[pos] = fn(Row{table: t, cells: cells})
		out.rows[i] = next
	}
	return out
}

// Get returns the cell for column, or nil when the cell is null or the
// column does not exist.
func (r Row) Get(column string) *string {
	i, ok := r.table.index[column]
	if !ok {
		return nil
	}
	return r.cells[i]
}

// Values returns the row cells in column order.
func (r Row) Values() []*string {
	return r.cells
}

// String returns a pointer to a copy of s.
func String(s string) *string {
	return &s
}

// Deref returns the cell value or "" for null.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
