package metadata

import (
	"github.com/jinzhu/inflection"
	"github.com/samber/lo"

	"restkit/internal/rules"
)

// Model is one exposed table.
type Model struct {
	Name       string        `yaml:"name"`
	Table      string        `yaml:"table"`
	Plural     string        `yaml:"plural"`
	PrimaryKey string        `yaml:"primary_key"`
	Parent     string        `yaml:"parent"`
	Columns    []Field       `yaml:"columns"`
	Allow      []string      `yaml:"allow"`
	Block      []string      `yaml:"block"`
	Required   []string      `yaml:"required"`
	Relations  []RelationDef `yaml:"relations"`
	Defaults   Defaults      `yaml:"defaults"`
	Rules      []rules.Rule  `yaml:"rules"`
}

// Defaults are the search settings used when a request does not supply its own.
type Defaults struct {
	Limit  string            `yaml:"limit" json:"limit,omitempty"`
	Offset string            `yaml:"offset" json:"offset,omitempty"`
	Sort   string            `yaml:"sort" json:"sort,omitempty"`
	With   string            `yaml:"with" json:"with,omitempty"`
	Search map[string]string `yaml:"search" json:"search,omitempty"`
}

// PluralName is the resource name used in URLs and response keys.
func (m *Model) PluralName() string {
	if m.Plural != "" {
		return m.Plural
	}
	return inflection.Plural(m.Name)
}

// ColumnNames returns every declared column in order.
func (m *Model) ColumnNames() []string {
	return lo.Map(m.Columns, func(f Field, _ int) string { return f.Name })
}

// HasColumn reports whether the table has the column, exposed or not.
func (m *Model) HasColumn(name string) bool {
	return lo.ContainsBy(m.Columns, func(f Field) bool { return f.Name == name })
}

// ExposedColumns applies the model's own allow and block lists. The primary
// key is always exposed.
func (m *Model) ExposedColumns() []string {
	return lo.Filter(m.ColumnNames(), func(c string, _ int) bool {
		if c == m.PrimaryKey {
			return true
		}
		if len(m.Allow) > 0 && !lo.Contains(m.Allow, c) {
			return false
		}
		return !lo.Contains(m.Block, c)
	})
}

// Relation returns the declaration registered under key.
func (m *Model) Relation(key string) (RelationDef, bool) {
	return lo.Find(m.Relations, func(r RelationDef) bool { return r.Key() == key })
}

// ParentLink returns the relation that points at the declared parent.
func (m *Model) ParentLink() (RelationDef, bool) {
	if m.Parent == "" {
		return RelationDef{}, false
	}
	return lo.Find(m.Relations, func(r RelationDef) bool {
		return r.Model == m.Parent && (r.Kind == BelongsTo || r.Kind == HasOne)
	})
}
