package metadata

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field is a table column. In schema files it is either a bare name or a
// mapping with a type used when the table is created.
type Field struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Unique bool   `yaml:"unique"`
}

func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Name = node.Value
		f.Type = "string"
		return nil
	}
	type plain Field
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("line %d: column without name", node.Line)
	}
	if p.Type == "" {
		p.Type = "string"
	}
	*f = Field(p)
	return nil
}

// Fields builds a column list from bare names.
func Fields(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Field{Name: n, Type: "string"}
	}
	return out
}
