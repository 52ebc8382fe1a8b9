package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"restkit/internal/metadata"
)

// Record is one resource row with its fields in output order.
type Record struct {
	Type   string
	// Key is the primary key column; ID is its value.
	Key    string
	ID     any
	Fields []string
	Values map[string]any
	Links  []Link
}

// Link is the linkage of a record to one relation's records.
type Link struct {
	Name    string
	Type    string
	Kind    metadata.RelationKind
	IDField string
	IDs     []any
}

func (l Link) Many() bool { return l.Kind.IsMany() }

// NewRecord keeps the listed fields that values holds, in list order.
func NewRecord(typ string, pk string, fields []string, values map[string]any) Record {
	r := Record{Type: typ, Key: pk, Fields: make([]string, 0, len(fields)), Values: make(map[string]any, len(fields))}
	for _, f := range fields {
		v, ok := values[f]
		if !ok {
			continue
		}
		r.Fields = append(r.Fields, f)
		r.Values[f] = v
	}
	r.ID = values[pk]
	return r
}

func (r Record) Get(field string) any { return r.Values[field] }

// With returns a copy with one more field appended, or replaced when present.
func (r Record) With(field string, value any) Record {
	out := Record{Type: r.Type, Key: r.Key, ID: r.ID, Links: r.Links, Values: make(map[string]any, len(r.Values)+1)}
	out.Fields = append(make([]string, 0, len(r.Fields)+1), r.Fields...)
	for k, v := range r.Values {
		out.Values[k] = v
	}
	if _, ok := out.Values[field]; !ok {
		out.Fields = append(out.Fields, field)
	}
	out.Values[field] = value
	return out
}

// Without returns a copy without the named fields.
func (r Record) Without(fields ...string) Record {
	drop := make(map[string]bool, len(fields))
	for _, f := range fields {
		drop[f] = true
	}
	out := Record{Type: r.Type, Key: r.Key, ID: r.ID, Links: r.Links, Values: make(map[string]any, len(r.Values))}
	for _, f := range r.Fields {
		if drop[f] {
			continue
		}
		out.Fields = append(out.Fields, f)
		out.Values[f] = r.Values[f]
	}
	return out
}

// MarshalJSON writes the fields as an object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f)
		val, err := json.Marshal(r.Values[f])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Meta struct {
	TotalPages          int   `json:"total_pages"`
	TotalRecordCount    int64 `json:"total_record_count"`
	ReturnedRecordCount int   `json:"returned_record_count"`
	DatabaseQueryCount  int   `json:"database_query_count"`
}

// Result is the assembled response graph of one fetch.
type Result struct {
	Resource string
	Single   bool
	Records  []Record
	Meta     *Meta

	includedOrder []string
	included      map[string][]Record
	includedIDs   map[string]map[string]bool
}

func NewResult(resource string) *Result {
	return &Result{
		Resource:    resource,
		included:    make(map[string][]Record),
		includedIDs: make(map[string]map[string]bool),
	}
}

// include appends a sideloaded record unless one with the same primary key is
// already present under its type.
func (r *Result) Include(rec Record) {
	key := fmt.Sprint(rec.ID)
	seen, ok := r.includedIDs[rec.Type]
	if !ok {
		seen = make(map[string]bool)
		r.includedIDs[rec.Type] = seen
		r.includedOrder = append(r.includedOrder, rec.Type)
	}
	if seen[key] {
		return
	}
	seen[key] = true
	r.included[rec.Type] = append(r.included[rec.Type], rec)
}

// IncludedTypes lists sideloaded types in discovery order.
func (r *Result) IncludedTypes() []string {
	return append([]string(nil), r.includedOrder...)
}

// Included returns the sideloaded records of one type.
func (r *Result) Included(typ string) []Record {
	return r.included[typ]
}
