package store

// Row is one result row: the column names in select order plus their values.
type Row struct {
	Columns []string
	Values  map[string]any
}

func NewRow(columns []string, values []any) Row {
	r := Row{Columns: columns, Values: make(map[string]any, len(columns))}
	for i, c := range columns {
		r.Values[c] = values[i]
	}
	return r
}

// Get returns the value and whether the column was selected at all.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// First returns the value of the first column, or nil for an empty row.
func (r Row) First() any {
	if len(r.Columns) == 0 {
		return nil
	}
	return r.Values[r.Columns[0]]
}

// Map returns a copy of the values.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		out[k] = v
	}
	return out
}
