package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yml and *.yaml file in dir. A file holds either one
// model or a "models" list.
func LoadDir(dir string) ([]*Model, error) {
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var models []*Model
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		models = append(models, parsed...)
	}
	return models, nil
}

// Parse decodes one schema document.
func Parse(data []byte) ([]*Model, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]

	var list struct {
		Models []*Model `yaml:"models"`
	}
	if err := doc.Decode(&list); err != nil {
		return nil, err
	}
	if len(list.Models) > 0 {
		return list.Models, nil
	}

	var m Model
	if err := doc.Decode(&m); err != nil {
		return nil, err
	}
	if m.Name == "" {
		return nil, fmt.Errorf("line %d: model without name", doc.Line)
	}
	return []*Model{&m}, nil
}
