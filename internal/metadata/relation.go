package metadata

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelationKind mirrors the numeric relation types of the ORM the schema format
// came from.
type RelationKind int

const (
	BelongsTo      RelationKind = 0
	HasOne         RelationKind = 1
	HasMany        RelationKind = 2
	HasOneThrough  RelationKind = 3
	HasManyThrough RelationKind = 4
)

var kindNames = map[RelationKind]string{
	BelongsTo:      "belongs_to",
	HasOne:         "has_one",
	HasMany:        "has_many",
	HasOneThrough:  "has_one_through",
	HasManyThrough: "has_many_through",
}

func (k RelationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// IsMany is true for kinds that link to a list of records.
func (k RelationKind) IsMany() bool {
	return k == HasMany || k == HasManyThrough
}

// IsThrough is true for kinds resolved over an intermediate table.
func (k RelationKind) IsThrough() bool {
	return k == HasOneThrough || k == HasManyThrough
}

func (k *RelationKind) UnmarshalYAML(node *yaml.Node) error {
	var n int
	if err := node.Decode(&n); err == nil {
		if _, ok := kindNames[RelationKind(n)]; !ok {
			return fmt.Errorf("line %d: unknown relation kind %d", node.Line, n)
		}
		*k = RelationKind(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	s = strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	for kind, name := range kindNames {
		if name == s || strings.ReplaceAll(name, "_", "") == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown relation kind %q", node.Line, s)
}

// RelationDef is one declared edge from a model to another model.
type RelationDef struct {
	Kind            RelationKind `yaml:"kind"`
	Model           string       `yaml:"model"`
	Field           string       `yaml:"field"`
	ReferencedField string       `yaml:"referenced_field"`
	Alias           string       `yaml:"alias"`

	// Through kinds only.
	Through                string `yaml:"through"`
	ThroughField           string `yaml:"through_field"`
	ThroughReferencedField string `yaml:"through_referenced_field"`
}

// Key is the name filters, the with parameter and the active relation set use.
func (r RelationDef) Key() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Model
}
