package engine

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"restkit/internal/metadata"
)

// columnSep separates the owning alias from the column in selected names, so a
// joined row can be split back into per-table rows.
const columnSep = "__"

// Hook lets a resource adjust the query. Hooks may replace Select and append
// to Columns.
type Hook func(qb *QueryBuilder) error

// QueryBuilder assembles the SELECT for one model.
type QueryBuilder struct {
	Model    *metadata.Model
	Registry *metadata.Registry
	Active   *ActiveRelations
	Search   *SearchHelper

	// Select is the statement under construction.
	Select sq.SelectBuilder
	// Columns are extra select expressions added by hooks.
	Columns []string

	Placeholder          sq.PlaceholderFormat
	JoinBelongsToColumns bool
	BeforeHook           Hook
	AfterHook            Hook

	where   []sq.Sqlizer
	single  bool
	aliases []string
}

// Where adds a predicate ANDed with the filter tokens.
func (qb *QueryBuilder) Where(pred sq.Sqlizer) *QueryBuilder {
	qb.where = append(qb.where, pred)
	return qb
}

// SelectedAliases lists the aliases whose columns the last non-count build selected.
func (qb *QueryBuilder) SelectedAliases() []string { return qb.aliases }

// Build returns the data query, or with count the COUNT(*) query.
func (qb *QueryBuilder) Build(count bool) (sq.SelectBuilder, error) {
	placeholder := qb.Placeholder
	if placeholder == nil {
		placeholder = sq.Question
	}
	qb.Select = sq.Select().From(qb.Model.Table).PlaceholderFormat(placeholder)
	qb.Columns = nil
	qb.aliases = nil

	if qb.BeforeHook != nil {
		if err := qb.BeforeHook(qb); err != nil {
			return sq.SelectBuilder{}, err
		}
	}

	cols := qb.qualified(qb.Model.Table, qb.Model.ColumnNames())
	qb.aliases = append(qb.aliases, qb.Model.Table)
	for _, r := range qb.Active.All() {
		if !r.Joined() {
			continue
		}
		qb.Select = qb.Select.LeftJoin(fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
			r.TableName(), r.Alias(), r.Alias(), r.ReferencedField(), r.OwnerAlias(), r.Field()))
		if qb.selectsColumnsOf(r) {
			cols = append(cols, qb.qualified(r.Alias(), r.Target().ColumnNames())...)
			qb.aliases = append(qb.aliases, r.Alias())
		}
	}

	for _, pred := range qb.where {
		qb.Select = qb.Select.Where(pred)
	}
	for _, f := range qb.Search.SearchFields() {
		qf, err := ParseQueryField(f.Name, f.Value)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		pred, err := qf.Predicate(qb.ResolveColumn)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		qb.Select = qb.Select.Where(pred)
	}

	if !count {
		for _, s := range qb.Search.Sort() {
			table, field := splitPrefixed(s.Name)
			col, err := qb.ResolveColumn(table, field)
			if err != nil {
				return sq.SelectBuilder{}, err
			}
			qb.Select = qb.Select.OrderBy(col + " " + s.Direction())
		}
	}

	if qb.AfterHook != nil {
		if err := qb.AfterHook(qb); err != nil {
			return sq.SelectBuilder{}, err
		}
	}

	if count {
		return qb.Select.Column("COUNT(*) AS record_count"), nil
	}

	if !qb.single {
		limit, hasLimit := qb.Search.Limit()
		offset, hasOffset := qb.Search.Offset()
		if hasOffset && !hasLimit {
			return sq.SelectBuilder{}, badQueryError()
		}
		if hasLimit {
			qb.Select = qb.Select.Limit(uint64(limit))
		}
		if hasOffset {
			qb.Select = qb.Select.Offset(uint64(offset))
		}
	}
	return qb.Select.Columns(append(cols, qb.Columns...)...), nil
}

// Parent chain links and plain has_one rows arrive with the primary row.
// belongs_to columns only when the flag asks for them.
func (qb *QueryBuilder) selectsColumnsOf(r *Relation) bool {
	if r.IsParentLink() {
		return true
	}
	switch {
	case r.Kind() == metadata.HasOne && !r.FetchesLikeBelongsTo():
		return true
	case r.Kind() == metadata.BelongsTo:
		return qb.JoinBelongsToColumns
	}
	return false
}

func (qb *QueryBuilder) qualified(alias string, columns []string) []string {
	return lo.Map(columns, func(c string, _ int) string {
		return fmt.Sprintf("%s.%s AS %s%s%s", alias, c, alias, columnSep, c)
	})
}

// ResolveColumn finds the alias that owns field. With a table prefix the
// prefix must name the primary table or an active relation. Without one the
// model's own columns are tried first, then each ancestor's through its
// parent link.
func (qb *QueryBuilder) ResolveColumn(table, field string) (string, error) {
	m := qb.Model
	if table != "" && table != m.Table && table != m.Name && table != m.PluralName() {
		r, ok := qb.Active.ByTable(table)
		if !ok {
			return "", ClientError("UNKNOWN_TABLE_PREFIX", "unknown table prefix %q", table)
		}
		if !r.Joined() {
			return "", ClientError("UNKNOWN_TABLE_PREFIX", "%q is fetched separately and cannot be filtered on", table)
		}
		if !lo.Contains(r.Target().ExposedColumns(), field) {
			return "", ClientError("UNKNOWN_FIELD", "unknown field %q on %s", field, table)
		}
		return r.Alias() + "." + field, nil
	}

	if lo.Contains(m.ExposedColumns(), field) {
		return m.Table + "." + field, nil
	}
	chain, err := qb.Registry.ParentChain(m.Name)
	if err != nil {
		return "", InternalError("BAD_SCHEMA", "%v", err)
	}
	for _, p := range chain {
		if !lo.Contains(p.ExposedColumns(), field) {
			continue
		}
		link, ok := qb.Active.parentLinkTo(p.Name)
		if !ok {
			return "", InternalError("BAD_RELATIONSHIP_REFERENCE", "no active parent link to %s", p.Name)
		}
		return link.Alias() + "." + field, nil
	}
	return "", ClientError("UNKNOWN_FIELD", "unknown field %q on %s", field, m.PluralName())
}

// StoredColumn qualifies any column of the model or its ancestors, blocked
// ones included. Row rules use it; request filters never do.
func (qb *QueryBuilder) StoredColumn(field string) (string, error) {
	if qb.Model.HasColumn(field) {
		return qb.Model.Table + "." + field, nil
	}
	chain, err := qb.Registry.ParentChain(qb.Model.Name)
	if err != nil {
		return "", InternalError("BAD_SCHEMA", "%v", err)
	}
	for _, p := range chain {
		if !p.HasColumn(field) {
			continue
		}
		if link, ok := qb.Active.parentLinkTo(p.Name); ok {
			return link.Alias() + "." + field, nil
		}
	}
	return "", InternalError("BAD_SCHEMA", "rule on %s names unknown column %q", qb.Model.Name, field)
}

func splitPrefixed(name string) (table, field string) {
	if t, f, ok := strings.Cut(name, ":"); ok {
		return t, f
	}
	return "", name
}
