package engine

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// FieldName is one parsed name from a filter token.
type FieldName struct {
	Table    string
	Field    string
	Original string
}

// QueryField is one filter token split into its names and values.
type QueryField struct {
	Names  []FieldName
	Values []string
}

// ColumnResolver maps an optional table prefix and a field onto a qualified
// column.
type ColumnResolver func(table, field string) (string, error)

// ParseQueryField splits "a||b" names (optionally "table:field") and "v1||v2"
// values.
func ParseQueryField(name, value string) (*QueryField, error) {
	qf := &QueryField{Values: strings.Split(value, "||")}
	for _, raw := range strings.Split(name, "||") {
		fn := FieldName{Field: strings.TrimSpace(raw), Original: raw}
		if table, field, ok := strings.Cut(fn.Field, ":"); ok {
			fn.Table, fn.Field = strings.TrimSpace(table), strings.TrimSpace(field)
			if fn.Table == "" {
				return nil, ClientError("BAD_FILTER", "empty table prefix in filter %q", name)
			}
		}
		if fn.Field == "" {
			return nil, ClientError("BAD_FILTER", "empty field name in filter %q", name)
		}
		qf.Names = append(qf.Names, fn)
	}
	return qf, nil
}

// Grouped reports whether the token expands into an OR group.
func (q *QueryField) Grouped() bool {
	return len(q.Names) > 1 || len(q.Values) > 1
}

// Predicate builds the WHERE fragment. Every name×value pair becomes one
// comparison; grouped tokens OR those comparisons together.
func (q *QueryField) Predicate(resolve ColumnResolver) (sq.Sqlizer, error) {
	var preds sq.Or
	for _, n := range q.Names {
		col, err := resolve(n.Table, n.Field)
		if err != nil {
			return nil, err
		}
		for _, v := range q.Values {
			p, err := valuePredicate(col, v)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}
	if !q.Grouped() {
		return preds[0], nil
	}
	return preds, nil
}

// valuePredicate infers the operator from the value. Checks run in a fixed
// order: wildcard, bang, tilde, NULL, two-character operators, one-character
// operators, then equality.
func valuePredicate(col, raw string) (sq.Sqlizer, error) {
	switch {
	case strings.HasPrefix(raw, "*") || strings.HasSuffix(raw, "*"):
		return sq.Like{col: strings.ReplaceAll(raw, "*", "%")}, nil

	case len(raw) >= 2 && strings.HasPrefix(raw, "!") && strings.HasSuffix(raw, "!"):
		return sq.NotLike{col: strings.ReplaceAll(raw[1:len(raw)-1], "*", "%")}, nil

	case strings.HasPrefix(raw, "~"):
		parts := strings.Split(raw, "~")
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, ClientError("BAD_BETWEEN", "between filter on %s needs the form ~lower~upper, got %q", col, raw)
		}
		return sq.Expr(col+" BETWEEN ? AND ?", parts[1], parts[2]), nil

	case strings.EqualFold(raw, "NULL"):
		return sq.Eq{col: nil}, nil

	case strings.EqualFold(raw, "!NULL"):
		return sq.NotEq{col: nil}, nil
	}

	if len(raw) >= 2 {
		switch rest := raw[2:]; raw[:2] {
		case "<=":
			return sq.LtOrEq{col: rest}, nil
		case ">=":
			return sq.GtOrEq{col: rest}, nil
		case "<>", "!=":
			return sq.NotEq{col: rest}, nil
		}
	}
	if len(raw) >= 1 {
		switch rest := raw[1:]; raw[0] {
		case '>':
			return sq.Gt{col: rest}, nil
		case '<':
			return sq.Lt{col: rest}, nil
		}
	}
	return sq.Eq{col: raw}, nil
}
