package engine

import (
	"github.com/jinzhu/inflection"

	"restkit/internal/metadata"
)

// Relation is a declared edge seen from one owner model. Target metadata is
// looked up once on first use.
type Relation struct {
	def      metadata.RelationDef
	owner    *metadata.Model
	registry *metadata.Registry

	// ownerAlias is the SQL alias the local field is read from.
	ownerAlias string
	parentLink bool

	target  *metadata.Model
	through *metadata.Model
}

func newRelation(reg *metadata.Registry, owner *metadata.Model, ownerAlias string, def metadata.RelationDef) *Relation {
	return &Relation{def: def, owner: owner, registry: reg, ownerAlias: ownerAlias}
}

func (r *Relation) resolve() {
	if r.target != nil {
		return
	}
	r.target = r.registry.GetModel(r.def.Model)
	if r.def.Kind.IsThrough() {
		r.through = r.registry.GetModel(r.def.Through)
	}
}

func (r *Relation) Kind() metadata.RelationKind { return r.def.Kind }

// Key is the alias when one was declared, else the referenced model name.
func (r *Relation) Key() string { return r.def.Key() }

// Alias is the SQL alias the related table is joined under.
func (r *Relation) Alias() string { return r.def.Key() }

func (r *Relation) Field() string           { return r.def.Field }
func (r *Relation) ReferencedField() string { return r.def.ReferencedField }
func (r *Relation) Owner() *metadata.Model  { return r.owner }
func (r *Relation) OwnerAlias() string      { return r.ownerAlias }

func (r *Relation) Target() *metadata.Model {
	r.resolve()
	return r.target
}

func (r *Relation) ModelName() string { return r.Target().Name }

func (r *Relation) ModelPlural() string { return r.Target().PluralName() }

func (r *Relation) TableName() string { return r.Target().Table }

// TablePlural is the response key related records are sideloaded under.
func (r *Relation) TablePlural() string { return r.Target().PluralName() }

func (r *Relation) PrimaryKey() string { return r.Target().PrimaryKey }

// Parent returns the referenced model's declared parent, or "".
func (r *Relation) Parent() string { return r.Target().Parent }

func (r *Relation) Through() *metadata.Model {
	r.resolve()
	return r.through
}

func (r *Relation) ThroughField() string           { return r.def.ThroughField }
func (r *Relation) ThroughReferencedField() string { return r.def.ThroughReferencedField }

// IsParentLink is true for the edges that merge ancestor rows into the owner.
func (r *Relation) IsParentLink() bool { return r.parentLink }

// Joined reports whether the primary query LEFT JOINs this relation.
func (r *Relation) Joined() bool {
	return r.def.Kind == metadata.BelongsTo || r.def.Kind == metadata.HasOne
}

// FetchesLikeBelongsTo is true when related rows need their own query: every
// belongs_to, plus has_one targets that carry a parent of their own.
func (r *Relation) FetchesLikeBelongsTo() bool {
	switch r.def.Kind {
	case metadata.BelongsTo:
		return true
	case metadata.HasOne:
		return r.Parent() != ""
	}
	return false
}

// IDsField is the linkage key written into ActiveModel records.
func (r *Relation) IDsField() string {
	name := inflection.Singular(r.Key())
	if r.def.Kind.IsMany() {
		return name + "_ids"
	}
	return name + "_id"
}

// ActiveRelations is the ordered set of relations joined or fetched for one
// request. It is built once and never modified.
type ActiveRelations struct {
	keys  []string
	byKey map[string]*Relation
}

func newActiveRelations(rels []*Relation) *ActiveRelations {
	a := &ActiveRelations{byKey: make(map[string]*Relation, len(rels))}
	for _, r := range rels {
		if _, dup := a.byKey[r.Key()]; dup {
			continue
		}
		a.keys = append(a.keys, r.Key())
		a.byKey[r.Key()] = r
	}
	return a
}

func (a *ActiveRelations) Len() int { return len(a.keys) }

func (a *ActiveRelations) Keys() []string {
	return append([]string(nil), a.keys...)
}

func (a *ActiveRelations) Get(key string) (*Relation, bool) {
	r, ok := a.byKey[key]
	return r, ok
}

// All returns the relations in activation order.
func (a *ActiveRelations) All() []*Relation {
	out := make([]*Relation, len(a.keys))
	for i, k := range a.keys {
		out[i] = a.byKey[k]
	}
	return out
}

// ByTable finds a relation by key, table name, model name or plural name, the
// forms a "table:field" filter prefix may use.
func (a *ActiveRelations) ByTable(name string) (*Relation, bool) {
	if r, ok := a.byKey[name]; ok {
		return r, true
	}
	for _, k := range a.keys {
		r := a.byKey[k]
		if r.TableName() == name || r.ModelName() == name || r.ModelPlural() == name {
			return r, true
		}
	}
	return nil, false
}

// parentLinkTo returns the active link whose target is the named model.
func (a *ActiveRelations) parentLinkTo(model string) (*Relation, bool) {
	for _, k := range a.keys {
		r := a.byKey[k]
		if r.parentLink && r.def.Model == model {
			return r, true
		}
	}
	return nil, false
}

// buildActiveRelations selects the owner's relations named by the with list
// (all when all is set), in declaration order, followed by the links of the
// grand-parent chain.
func buildActiveRelations(reg *metadata.Registry, model *metadata.Model, search *SearchHelper) (*ActiveRelations, error) {
	var parents []string
	link, hasParent := model.ParentLink()
	if hasParent {
		parents = append(parents, link.Key())
	}
	names, all, err := search.ResolveWith(parents)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var rels []*Relation
	for _, def := range model.Relations {
		r := newRelation(reg, model, model.Table, def)
		if !all && !wanted[def.Key()] && !wanted[def.Model] && !wanted[r.TableName()] && !wanted[r.ModelPlural()] {
			continue
		}
		if hasParent && def.Key() == link.Key() {
			r.parentLink = true
		}
		rels = append(rels, r)
	}

	chain, err := reg.ParentChain(model.Name)
	if err != nil {
		return nil, InternalError("BAD_SCHEMA", "%v", err)
	}
	ownerAlias := link.Key()
	for _, p := range chain {
		pl, ok := p.ParentLink()
		if !ok {
			break
		}
		r := newRelation(reg, p, ownerAlias, pl)
		r.parentLink = true
		rels = append(rels, r)
		ownerAlias = pl.Key()
	}
	return newActiveRelations(rels), nil
}
