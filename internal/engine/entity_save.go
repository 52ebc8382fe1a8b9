package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"restkit/internal/instrument"
	"restkit/internal/logging"
	"restkit/internal/metadata"
	"restkit/internal/store"
)

// level is one table of a model's parent chain. link points at the next
// level up and is unset on the root.
type level struct {
	model   *metadata.Model
	link    metadata.RelationDef
	hasLink bool
}

// levels lists the model then its ancestors, nearest first.
func (e *Entity) levels() ([]level, error) {
	ancestors, err := e.registry.ParentChain(e.Model.Name)
	if err != nil {
		return nil, InternalError("BAD_SCHEMA", "%v", err)
	}
	out := make([]level, 0, len(ancestors)+1)
	for _, m := range append([]*metadata.Model{e.Model}, ancestors...) {
		link, ok := m.ParentLink()
		out = append(out, level{model: m, link: link, hasLink: ok})
	}
	return out, nil
}

// Save inserts the payload when id is nil and updates the record otherwise.
// Every level of the parent chain takes the payload fields it has a column
// for; other fields are ignored. It returns the primary key of the saved row.
func (e *Entity) Save(ctx context.Context, payload map[string]any, id any) (any, error) {
	levels, err := e.levels()
	if err != nil {
		return nil, err
	}
	if details := validatePayload(levels, payload, id == nil); len(details) > 0 {
		return nil, ValidationError(details)
	}
	if id == nil {
		return e.insert(ctx, levels, payload)
	}
	return id, e.update(ctx, levels, payload, id)
}

// validatePayload reports required columns that are missing or blank, and
// values that cannot be stored in a column. On update only the required
// columns present in the payload are checked.
func validatePayload(levels []level, payload map[string]any, creating bool) []ErrorDetail {
	var details []ErrorDetail
	seen := make(map[string]bool)
	for _, lvl := range levels {
		for _, col := range lvl.model.Required {
			if seen[col] || (lvl.hasLink && col == lvl.link.Field) {
				continue
			}
			seen[col] = true
			v, present := payload[col]
			if !present && !creating {
				continue
			}
			if isBlank(v) {
				details = append(details, ErrorDetail{Field: col, Rule: "required", Message: fmt.Sprintf("%s is required", col)})
			}
		}
	}
	for _, lvl := range levels {
		for col, v := range columnValues(lvl.model, payload) {
			if seen["type:"+col] {
				continue
			}
			switch v.(type) {
			case map[string]any, []any:
				seen["type:"+col] = true
				details = append(details, ErrorDetail{Field: col, Rule: "scalar", Message: fmt.Sprintf("%s must be a scalar value", col)})
			}
		}
	}
	return details
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// columnValues picks the payload entries the model has a column for. The
// primary key is never written.
func columnValues(m *metadata.Model, payload map[string]any) map[string]any {
	out := make(map[string]any)
	for _, col := range m.ColumnNames() {
		if col == m.PrimaryKey {
			continue
		}
		if v, ok := payload[col]; ok {
			out[col] = v
		}
	}
	return out
}

// insert writes the root ancestor first, then each descendant with its
// parent-link field set from the row just written.
func (e *Entity) insert(ctx context.Context, levels []level, payload map[string]any) (any, error) {
	var above map[string]any
	for i := len(levels) - 1; i >= 0; i-- {
		lvl := levels[i]
		values := columnValues(lvl.model, payload)
		if above != nil {
			ref, ok := above[lvl.link.ReferencedField]
			if !ok {
				return nil, badRelationshipError(lvl.link.Key(), lvl.link.ReferencedField)
			}
			values[lvl.link.Field] = ref
		}
		row, err := e.insertRow(ctx, lvl.model, values)
		if err != nil {
			return nil, err
		}
		above = row
	}
	return above[e.Model.PrimaryKey], nil
}

func (e *Entity) insertRow(ctx context.Context, m *metadata.Model, values map[string]any) (map[string]any, error) {
	if len(values) == 0 {
		return nil, ValidationError([]ErrorDetail{{Rule: "empty", Message: fmt.Sprintf("nothing to save for %s", m.Name)}})
	}
	ins := sq.Insert(m.Table).SetMap(values).PlaceholderFormat(e.dialect.Placeholder())

	if e.dialect.SupportsReturning() {
		rows, err := e.query(ctx, ins.Suffix("RETURNING "+m.PrimaryKey))
		if err != nil {
			return nil, e.writeError("insert", m, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("insert %s: no key returned", m.Name)
		}
		values[m.PrimaryKey] = rows[0].First()
		return values, nil
	}

	res, err := e.exec(ctx, m, ins)
	if err != nil {
		return nil, e.writeError("insert", m, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert %s: last insert id: %w", m.Name, err)
	}
	values[m.PrimaryKey] = id
	return values, nil
}

// update re-reads every level and writes only the columns whose value
// changed. Parent-link fields are never rewritten.
func (e *Entity) update(ctx context.Context, levels []level, payload map[string]any, id any) error {
	rows, err := e.fetchChain(ctx, levels, id)
	if err != nil {
		return err
	}
	for i, lvl := range levels {
		changes := make(map[string]any)
		for col, v := range columnValues(lvl.model, payload) {
			if lvl.hasLink && col == lvl.link.Field {
				continue
			}
			if fmt.Sprint(rows[i][col]) != fmt.Sprint(v) || (rows[i][col] == nil) != (v == nil) {
				changes[col] = v
			}
		}
		if len(changes) == 0 {
			continue
		}
		pk := lvl.model.PrimaryKey
		upd := sq.Update(lvl.model.Table).SetMap(changes).
			Where(sq.Eq{pk: rows[i][pk]}).
			PlaceholderFormat(e.dialect.Placeholder())
		if _, err := e.exec(ctx, lvl.model, upd); err != nil {
			return e.writeError("update", lvl.model, err)
		}
	}
	return nil
}

// Delete removes the record and then each ancestor row.
func (e *Entity) Delete(ctx context.Context, id any) error {
	levels, err := e.levels()
	if err != nil {
		return err
	}
	rows, err := e.fetchChain(ctx, levels, id)
	if err != nil {
		return err
	}
	for i, lvl := range levels {
		pk := lvl.model.PrimaryKey
		del := sq.Delete(lvl.model.Table).
			Where(sq.Eq{pk: rows[i][pk]}).
			PlaceholderFormat(e.dialect.Placeholder())
		res, err := e.exec(ctx, lvl.model, del)
		if err != nil {
			return e.writeError("delete", lvl.model, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return store.ErrNotFound
		}
	}
	return nil
}

// Load returns the stored record with ancestor columns merged in, blocked
// columns included. Rule checks run against it.
func (e *Entity) Load(ctx context.Context, id any) (map[string]any, error) {
	levels, err := e.levels()
	if err != nil {
		return nil, err
	}
	rows, err := e.fetchChain(ctx, levels, id)
	if err != nil {
		return nil, err
	}
	models := lo.Map(levels, func(l level, _ int) *metadata.Model { return l.model })
	return mergeChain(models, rows), nil
}

// fetchChain reads the row at every level, following parent-link fields up
// from the record with primary key id.
func (e *Entity) fetchChain(ctx context.Context, levels []level, id any) ([]map[string]any, error) {
	out := make([]map[string]any, len(levels))
	field, key := e.Model.PrimaryKey, id
	for i, lvl := range levels {
		sel := sq.Select(lvl.model.ColumnNames()...).
			From(lvl.model.Table).
			Where(sq.Eq{field: key}).
			PlaceholderFormat(e.dialect.Placeholder())
		rows, err := e.query(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			if i == 0 {
				return nil, store.ErrNotFound
			}
			return nil, badRelationshipError(levels[i-1].link.Key(), field)
		}
		out[i] = rows[0].Map()
		if lvl.hasLink {
			field, key = lvl.link.ReferencedField, out[i][lvl.link.Field]
		}
	}
	return out, nil
}

func (e *Entity) exec(ctx context.Context, m *metadata.Model, stmt sq.Sqlizer) (sql.Result, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s statement: %w", m.Name, err)
	}
	e.queries++
	instrument.DBQueries.WithLabelValues(m.Name).Inc()
	logging.FromContext(ctx).Debug("exec", "resource", m.Name, "sql", sqlStr, "args", len(args))
	return store.Exec(ctx, e.db, sqlStr, args...)
}

// writeError classifies a failed write. Integrity violations keep their
// parsed detail; anything else is wrapped with the operation.
func (e *Entity) writeError(op string, m *metadata.Model, err error) error {
	mapped := e.dialect.MapError(err)
	if _, ok := mapped.(*store.IntegrityError); ok {
		return mapped
	}
	return fmt.Errorf("%s %s: %w", op, m.Name, err)
}
