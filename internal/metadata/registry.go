package metadata

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jinzhu/inflection"
	"github.com/samber/lo"
)

var ErrUnknownModel = errors.New("unknown model")

type Registry struct {
	mu         sync.RWMutex
	models     map[string]*Model
	order      []string
	byResource map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{
		models:     make(map[string]*Model),
		byResource: make(map[string]*Model),
	}
}

// GetModel returns the model with the given name, or nil.
func (r *Registry) GetModel(name string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// Resource resolves a URL segment (plural resource name or model name).
func (r *Registry) Resource(segment string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byResource[segment]; ok {
		return m
	}
	return r.models[segment]
}

// AllModels returns every model in load order.
func (r *Registry) AllModels() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(n string, _ int) *Model { return r.models[n] })
}

// ParentChain returns the ancestors of the named model, nearest first.
func (r *Registry) ParentChain(name string) ([]*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return parentChain(r.models, name)
}

func parentChain(models map[string]*Model, name string) ([]*Model, error) {
	m, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	var chain []*Model
	seen := map[string]bool{name: true}
	for m.Parent != "" {
		if seen[m.Parent] {
			return nil, fmt.Errorf("parent cycle at %s -> %s", m.Name, m.Parent)
		}
		seen[m.Parent] = true
		p, ok := models[m.Parent]
		if !ok {
			return nil, fmt.Errorf("%s: parent %w: %s", m.Name, ErrUnknownModel, m.Parent)
		}
		chain = append(chain, p)
		m = p
	}
	return chain, nil
}

// AllowedColumns returns the model's exposed columns followed by every column
// exposed by its ancestors. The child's block list never hides parent columns.
func (r *Registry) AllowedColumns(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.models[name]
	if m == nil {
		return nil
	}
	cols := m.ExposedColumns()
	chain, _ := parentChain(r.models, name)
	for _, p := range chain {
		cols = append(cols, p.ExposedColumns()...)
	}
	return lo.Uniq(cols)
}

// Load validates the models, fills in relation defaults and replaces the
// registry contents.
func (r *Registry) Load(models []*Model) error {
	byName := make(map[string]*Model, len(models))
	order := make([]string, 0, len(models))
	for _, m := range models {
		if m.Name == "" {
			return errors.New("model without name")
		}
		if _, dup := byName[m.Name]; dup {
			return fmt.Errorf("duplicate model %s", m.Name)
		}
		if m.Table == "" {
			m.Table = inflection.Plural(m.Name)
		}
		if m.PrimaryKey == "" {
			m.PrimaryKey = "id"
		}
		if len(m.Columns) > 0 && !m.HasColumn(m.PrimaryKey) {
			m.Columns = append([]Field{{Name: m.PrimaryKey, Type: "int"}}, m.Columns...)
		}
		if m.Defaults.With == "" {
			m.Defaults.With = "none"
		}
		byName[m.Name] = m
		order = append(order, m.Name)
	}

	byResource := make(map[string]*Model, len(models))
	for _, name := range order {
		m := byName[name]
		if other, ok := byResource[m.PluralName()]; ok {
			return fmt.Errorf("resource %s is claimed by %s and %s", m.PluralName(), other.Name, m.Name)
		}
		byResource[m.PluralName()] = m
		if err := resolveRelations(m, byName); err != nil {
			return err
		}
	}
	for _, name := range order {
		if err := checkParent(byName[name], byName); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = byName
	r.order = order
	r.byResource = byResource
	return nil
}

func resolveRelations(m *Model, byName map[string]*Model) error {
	keys := map[string]bool{}
	for i := range m.Relations {
		rel := &m.Relations[i]
		target, ok := byName[rel.Model]
		if !ok {
			return fmt.Errorf("%s: relation to %w %q", m.Name, ErrUnknownModel, rel.Model)
		}
		if keys[rel.Key()] {
			return fmt.Errorf("%s: ambiguous relation %q, set an alias", m.Name, rel.Key())
		}
		if rel.Key() == m.Table {
			return fmt.Errorf("%s: relation key %q collides with the table name", m.Name, rel.Key())
		}
		keys[rel.Key()] = true

		switch rel.Kind {
		case BelongsTo:
			if rel.Field == "" {
				rel.Field = target.Name + "_id"
			}
			if rel.ReferencedField == "" {
				rel.ReferencedField = target.PrimaryKey
			}
		case HasOne, HasMany:
			if rel.Field == "" {
				rel.Field = m.PrimaryKey
			}
			if rel.ReferencedField == "" {
				rel.ReferencedField = m.Name + "_id"
			}
		case HasOneThrough, HasManyThrough:
			if _, ok := byName[rel.Through]; !ok {
				return fmt.Errorf("%s: through %w %q", m.Name, ErrUnknownModel, rel.Through)
			}
			if rel.Field == "" {
				rel.Field = m.PrimaryKey
			}
			if rel.ThroughField == "" {
				rel.ThroughField = m.Name + "_id"
			}
			if rel.ThroughReferencedField == "" {
				rel.ThroughReferencedField = target.Name + "_id"
			}
			if rel.ReferencedField == "" {
				rel.ReferencedField = target.PrimaryKey
			}
		}
	}
	return nil
}

func checkParent(m *Model, byName map[string]*Model) error {
	if m.Parent == "" {
		return nil
	}
	chain, err := parentChain(byName, m.Name)
	if err != nil {
		return err
	}
	if _, ok := m.ParentLink(); !ok {
		return fmt.Errorf("%s declares parent %s but has no belongs_to or has_one relation to it", m.Name, m.Parent)
	}
	// ancestor links are joined into the child's query under their own keys
	keys := lo.SliceToMap(m.Relations, func(r RelationDef) (string, bool) { return r.Key(), true })
	for _, p := range chain {
		link, ok := p.ParentLink()
		if !ok {
			continue
		}
		if keys[link.Key()] || link.Key() == m.Table {
			return fmt.Errorf("%s: inherited parent link %q collides with another relation", m.Name, link.Key())
		}
		keys[link.Key()] = true
	}
	return nil
}
