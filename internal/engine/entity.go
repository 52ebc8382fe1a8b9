package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"restkit/internal/instrument"
	"restkit/internal/logging"
	"restkit/internal/metadata"
	"restkit/internal/store"
)

// Options tune one Entity.
type Options struct {
	JoinBelongsToColumns bool
	BeforeHook           Hook
	AfterHook            Hook
}

// Entity runs the fetch and save paths of one model for one request.
type Entity struct {
	Model *metadata.Model

	db       store.Querier
	dialect  store.Dialect
	registry *metadata.Registry
	search   *SearchHelper
	opts     Options

	active  *ActiveRelations
	result  *Result
	queries int
	// fetched maps "type|field|value" to the ids a to-one lookup returned.
	fetched map[string][]any
}

func NewEntity(db store.Querier, dialect store.Dialect, reg *metadata.Registry, model *metadata.Model, search *SearchHelper, opts Options) *Entity {
	return &Entity{
		Model:    model,
		db:       db,
		dialect:  dialect,
		registry: reg,
		search:   search,
		opts:     opts,
		fetched:  make(map[string][]any),
	}
}

// QueryCount is the number of statements executed so far.
func (e *Entity) QueryCount() int { return e.queries }

// ActiveRelations returns the relations used by this request, computing them
// on first call.
func (e *Entity) ActiveRelations() (*ActiveRelations, error) {
	if e.active != nil {
		return e.active, nil
	}
	active, err := buildActiveRelations(e.registry, e.Model, e.search)
	if err != nil {
		return nil, err
	}
	e.active = active
	return active, nil
}

func (e *Entity) newBuilder() (*QueryBuilder, error) {
	active, err := e.ActiveRelations()
	if err != nil {
		return nil, err
	}
	return &QueryBuilder{
		Model:                e.Model,
		Registry:             e.registry,
		Active:               active,
		Search:               e.search,
		Placeholder:          e.dialect.Placeholder(),
		JoinBelongsToColumns: e.opts.JoinBelongsToColumns,
		BeforeHook:           e.opts.BeforeHook,
		AfterHook:            e.opts.AfterHook,
	}, nil
}

// Find fetches the collection selected by the search.
func (e *Entity) Find(ctx context.Context) (*Result, error) {
	if err := e.checkFields(); err != nil {
		return nil, err
	}
	qb, err := e.newBuilder()
	if err != nil {
		return nil, err
	}
	e.result = NewResult(e.Model.PluralName())

	var total int64
	if e.search.Paginate() {
		if total, err = e.count(ctx, qb); err != nil {
			return nil, err
		}
	}

	rows, err := e.selectRows(ctx, qb)
	if err != nil {
		return nil, err
	}
	if err := e.assemble(ctx, qb, rows); err != nil {
		return nil, err
	}

	if e.search.Paginate() {
		limit, _ := e.search.Limit()
		pages := 0
		if limit > 0 {
			pages = int((total + int64(limit) - 1) / int64(limit))
		}
		e.result.Meta = &Meta{
			TotalPages:          pages,
			TotalRecordCount:    total,
			ReturnedRecordCount: len(e.result.Records),
			DatabaseQueryCount:  e.queries,
		}
	}
	return e.result, nil
}

// FindFirst fetches one record by primary key. A missing row is
// store.ErrNotFound.
func (e *Entity) FindFirst(ctx context.Context, id any) (*Result, error) {
	if err := e.checkFields(); err != nil {
		return nil, err
	}
	qb, err := e.newBuilder()
	if err != nil {
		return nil, err
	}
	qb.Where(sq.Eq{e.Model.Table + "." + e.Model.PrimaryKey: id})
	qb.single = true
	e.result = NewResult(e.Model.PluralName())
	e.result.Single = true

	rows, err := e.selectRows(ctx, qb)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	if err := e.assemble(ctx, qb, rows[:1]); err != nil {
		return nil, err
	}
	return e.result, nil
}

func (e *Entity) checkFields() error {
	allowed := e.registry.AllowedColumns(e.Model.Name)
	for _, f := range e.search.Fields() {
		if !lo.Contains(allowed, f) {
			return ClientError("BAD_FIELDS", "unknown field %q in fields list", f)
		}
	}
	return nil
}

func (e *Entity) count(ctx context.Context, qb *QueryBuilder) (int64, error) {
	sel, err := qb.Build(true)
	if err != nil {
		return 0, err
	}
	rows, err := e.query(ctx, sel)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0].First())
}

func (e *Entity) selectRows(ctx context.Context, qb *QueryBuilder) ([]store.Row, error) {
	sel, err := qb.Build(false)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, sel)
}

func (e *Entity) query(ctx context.Context, sel sq.Sqlizer) ([]store.Row, error) {
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", e.Model.Name, err)
	}
	e.queries++
	instrument.DBQueries.WithLabelValues(e.Model.Name).Inc()
	logging.FromContext(ctx).Debug("query", "resource", e.Model.Name, "sql", sqlStr, "args", len(args))

	rows, err := store.QueryRows(ctx, e.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Model.Name, err)
	}
	return rows, nil
}

// extracted is one result row taken apart.
type extracted struct {
	record Record
	// parts holds each selected alias's sub-row.
	parts map[string]map[string]any
	// full is the primary sub-row with ancestor values merged in, blocked
	// columns included, for relationship lookups.
	full map[string]any
}

// extract splits a joined row by alias and builds the base record from the
// primary sub-row and the parent chain sub-rows. Columns added by hooks belong
// to no alias and are appended to the record.
func (e *Entity) extract(qb *QueryBuilder, row store.Row) (extracted, error) {
	aliases := append([]string(nil), qb.SelectedAliases()...)
	sort.Slice(aliases, func(i, j int) bool { return len(aliases[i]) > len(aliases[j]) })

	parts := make(map[string]map[string]any, len(aliases))
	var extra []string
	for _, col := range row.Columns {
		alias, field, ok := splitAliased(col, aliases)
		if !ok {
			extra = append(extra, col)
			continue
		}
		if parts[alias] == nil {
			parts[alias] = make(map[string]any)
		}
		parts[alias][field] = row.Values[col]
	}

	primary, ok := parts[e.Model.Table]
	if !ok {
		return extracted{}, badRelationshipError(e.Model.Table, e.Model.PrimaryKey)
	}
	chain := []*metadata.Model{e.Model}
	chainRows := []map[string]any{primary}
	for _, r := range qb.Active.All() {
		if !r.IsParentLink() {
			continue
		}
		sub, ok := parts[r.Alias()]
		if !ok {
			return extracted{}, badRelationshipError(r.Key(), r.ReferencedField())
		}
		chain = append(chain, r.Target())
		chainRows = append(chainRows, sub)
	}
	full := mergeChain(chain, chainRows)

	fields := e.registry.AllowedColumns(e.Model.Name)
	values := lo.PickByKeys(full, fields)
	for _, col := range extra {
		fields = append(fields, col)
		values[col] = row.Values[col]
	}
	rec := NewRecord(e.Model.PluralName(), e.Model.PrimaryKey, fields, values)
	rec.ID = primary[e.Model.PrimaryKey]
	return extracted{record: rec, parts: parts, full: full}, nil
}

// mergeChain merges rows read along a parent chain, child first. A name takes
// its value from the first level that exposes it; names no level exposes take
// the first value found.
func mergeChain(models []*metadata.Model, rows []map[string]any) map[string]any {
	merged := make(map[string]any)
	for i, row := range rows {
		exposed := models[i].ExposedColumns()
		for k, v := range row {
			if _, taken := merged[k]; !taken && lo.Contains(exposed, k) {
				merged[k] = v
			}
		}
	}
	for _, row := range rows {
		for k, v := range row {
			if _, taken := merged[k]; !taken {
				merged[k] = v
			}
		}
	}
	return merged
}

func splitAliased(col string, longestFirst []string) (alias, field string, ok bool) {
	for _, a := range longestFirst {
		if rest, found := strings.CutPrefix(col, a+columnSep); found {
			return a, rest, true
		}
	}
	return "", "", false
}

func (e *Entity) assemble(ctx context.Context, qb *QueryBuilder, rows []store.Row) error {
	for _, row := range rows {
		x, err := e.extract(qb, row)
		if err != nil {
			return err
		}
		for _, r := range qb.Active.All() {
			if r.IsParentLink() {
				continue
			}
			if err := e.resolve(ctx, qb, r, &x); err != nil {
				return err
			}
		}
		rec := x.record
		if fields := e.search.Fields(); len(fields) > 0 {
			keep := append([]string{e.Model.PrimaryKey}, fields...)
			rec = rec.Without(lo.Without(rec.Fields, keep...)...)
		}
		e.result.Records = append(e.result.Records, rec)
	}
	return nil
}

// resolve attaches one relation's records to the row. Relations are resolved in
// activation order; the to-one dedup below depends on it.
func (e *Entity) resolve(ctx context.Context, qb *QueryBuilder, r *Relation, x *extracted) error {
	local, ok := x.full[r.Field()]
	if !ok {
		return badRelationshipError(r.Key(), r.Field())
	}

	switch {
	case r.Kind().IsThrough():
		if local == nil {
			return nil
		}
		recs, err := e.fetchRelated(ctx, r.Target(), e.throughJoin(r, local))
		if err != nil {
			return err
		}
		e.link(x, r, recs)

	case lo.Contains(qb.SelectedAliases(), r.Alias()) && r.Parent() == "":
		sub, ok := x.parts[r.Alias()]
		if !ok {
			return badRelationshipError(r.Key(), r.ReferencedField())
		}
		if sub[r.ReferencedField()] == nil {
			return nil
		}
		target := r.Target()
		rec := NewRecord(target.PluralName(), target.PrimaryKey, e.registry.AllowedColumns(target.Name), sub)
		e.link(x, r, []Record{rec})

	case r.FetchesLikeBelongsTo():
		// null keys never match, so they are neither fetched nor deduped
		if local == nil {
			return nil
		}
		key := fmt.Sprintf("%s|%s|%v", r.TablePlural(), r.ReferencedField(), local)
		if ids, done := e.fetched[key]; done {
			x.record.Links = append(x.record.Links, e.newLink(r, ids))
			return nil
		}
		recs, err := e.fetchRelated(ctx, r.Target(), e.whereReferenced(r, local))
		if err != nil {
			return err
		}
		e.fetched[key] = e.link(x, r, recs)

	case r.Kind() == metadata.HasMany:
		if local == nil {
			return nil
		}
		recs, err := e.fetchRelated(ctx, r.Target(), e.whereReferenced(r, local))
		if err != nil {
			return err
		}
		e.link(x, r, recs)
	}
	return nil
}

// link sideloads recs and records their ids on the row. Many-links without
// ids are left off.
func (e *Entity) link(x *extracted, r *Relation, recs []Record) []any {
	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		e.result.Include(rec)
		ids = append(ids, rec.ID)
	}
	if len(ids) > 0 || !r.Kind().IsMany() {
		x.record.Links = append(x.record.Links, e.newLink(r, ids))
	}
	return ids
}

func (e *Entity) newLink(r *Relation, ids []any) Link {
	return Link{Name: r.Key(), Type: r.TablePlural(), Kind: r.Kind(), IDField: r.IDsField(), IDs: ids}
}

func (e *Entity) whereReferenced(r *Relation, value any) Hook {
	return func(qb *QueryBuilder) error {
		qb.Select = qb.Select.Where(sq.Eq{qb.Model.Table + "." + r.ReferencedField(): value})
		return nil
	}
}

func (e *Entity) throughJoin(r *Relation, value any) Hook {
	return func(qb *QueryBuilder) error {
		through := r.Through()
		alias := "through_" + through.Table
		qb.Select = qb.Select.Join(fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
			through.Table, alias, alias, r.ThroughReferencedField(), qb.Model.Table, r.ReferencedField()))
		qb.Select = qb.Select.Where(sq.Eq{alias + "." + r.ThroughField(): value})
		return nil
	}
}

// fetchRelated loads target rows, merged with the target's own parent chain.
func (e *Entity) fetchRelated(ctx context.Context, target *metadata.Model, scope Hook) ([]Record, error) {
	search, err := NewSearchHelper(nil, metadata.Defaults{With: WithNone})
	if err != nil {
		return nil, err
	}
	child := NewEntity(e.db, e.dialect, e.registry, target, search, Options{BeforeHook: scope})
	qb, err := child.newBuilder()
	if err != nil {
		return nil, err
	}
	rows, err := child.selectRows(ctx, qb)
	e.queries += child.queries
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		x, err := child.extract(qb, row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, x.record)
	}
	return recs, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected count value %T", v)
}
