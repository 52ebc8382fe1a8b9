// Package rules evaluates the declarative permission list attached to a model.
package rules

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Operator is the closed set of comparisons a condition may use.
type Operator string

const (
	OpEq    Operator = "="
	OpNotEq Operator = "!="
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
)

var operatorAliases = map[string]Operator{
	"=": OpEq, "eq": OpEq,
	"!=": OpNotEq, "<>": OpNotEq, "neq": OpNotEq,
	"<": OpLt, "lt": OpLt,
	"<=": OpLte, "lte": OpLte,
	">": OpGt, "gt": OpGt,
	">=": OpGte, "gte": OpGte,
}

// ParseOperator maps a symbol or its short name onto an Operator.
func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unsupported operator %q", s)
	}
	return op, nil
}

func (o *Operator) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	op, err := ParseOperator(raw)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Action names a guarded operation.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// SubjectRef is the condition value that is replaced by the caller's id.
const SubjectRef = "$user.id"

var ErrForbidden = errors.New("forbidden")

// Condition compares one record field against a literal or the caller's id.
type Condition struct {
	Field    string   `yaml:"field"`
	Operator Operator `yaml:"operator"`
	Value    any      `yaml:"value"`
}

// Rule grants the listed actions to the listed roles, optionally restricted by
// conditions that must all hold. An empty role list applies to everyone.
type Rule struct {
	Actions    []Action    `yaml:"actions"`
	Roles      []string    `yaml:"roles"`
	Conditions []Condition `yaml:"conditions"`
}

// Subject is the authenticated caller.
type Subject struct {
	ID    string
	Roles []string
}

func (s Subject) IsAdmin() bool {
	return lo.Contains(s.Roles, "admin")
}

func (r Rule) appliesTo(action Action, subj Subject) bool {
	if !lo.Contains(r.Actions, action) {
		return false
	}
	if len(r.Roles) == 0 {
		return true
	}
	for _, have := range subj.Roles {
		for _, want := range r.Roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// Guarded reports whether any rule mentions the action. Unguarded actions are open.
func Guarded(list []Rule, action Action) bool {
	return lo.SomeBy(list, func(r Rule) bool { return lo.Contains(r.Actions, action) })
}

// Check decides whether subj may perform action against record. For creates the
// record is the incoming payload.
func Check(list []Rule, action Action, subj Subject, record map[string]any) error {
	if !Guarded(list, action) || subj.IsAdmin() {
		return nil
	}
	for _, r := range list {
		if !r.appliesTo(action, subj) {
			continue
		}
		if record == nil || matchesAll(r.Conditions, subj, record) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrForbidden, action)
}

// ColumnFunc qualifies a field name for use in a WHERE clause.
type ColumnFunc func(field string) (string, error)

// ReadPredicate returns the row filter for reads. A nil predicate means no
// restriction. Rules are ORed; the conditions inside one rule are ANDed.
func ReadPredicate(list []Rule, subj Subject, column ColumnFunc) (sq.Sqlizer, error) {
	if !Guarded(list, ActionRead) || subj.IsAdmin() {
		return nil, nil
	}
	var anyOf sq.Or
	for _, r := range list {
		if !r.appliesTo(ActionRead, subj) {
			continue
		}
		if len(r.Conditions) == 0 {
			return nil, nil
		}
		and := make(sq.And, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			col, err := column(c.Field)
			if err != nil {
				return nil, err
			}
			and = append(and, c.predicate(col, subj))
		}
		anyOf = append(anyOf, and)
	}
	if len(anyOf) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, ActionRead)
	}
	return anyOf, nil
}

func (c Condition) resolved(subj Subject) any {
	if s, ok := c.Value.(string); ok && s == SubjectRef {
		return subj.ID
	}
	return c.Value
}

func (c Condition) predicate(col string, subj Subject) sq.Sqlizer {
	v := c.resolved(subj)
	switch c.Operator {
	case OpNotEq:
		return sq.NotEq{col: v}
	case OpLt:
		return sq.Lt{col: v}
	case OpLte:
		return sq.LtOrEq{col: v}
	case OpGt:
		return sq.Gt{col: v}
	case OpGte:
		return sq.GtOrEq{col: v}
	default:
		return sq.Eq{col: v}
	}
}

func matchesAll(conds []Condition, subj Subject, record map[string]any) bool {
	for _, c := range conds {
		val, ok := record[c.Field]
		if !ok || !c.Operator.Compare(val, c.resolved(subj)) {
			return false
		}
	}
	return true
}

// Compare applies the operator to a record value and a condition value.
func (o Operator) Compare(recordVal, condVal any) bool {
	switch o {
	case OpEq:
		return fmt.Sprint(recordVal) == fmt.Sprint(condVal)
	case OpNotEq:
		return fmt.Sprint(recordVal) != fmt.Sprint(condVal)
	case OpLt:
		return compareNumeric(recordVal, condVal) < 0
	case OpLte:
		return compareNumeric(recordVal, condVal) <= 0
	case OpGt:
		return compareNumeric(recordVal, condVal) > 0
	case OpGte:
		return compareNumeric(recordVal, condVal) >= 0
	}
	return false
}

func compareNumeric(a, b any) int {
	fa, fb := toFloat(a), toFloat(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		var f float64
		fmt.Sscanf(fmt.Sprint(v), "%f", &f)
		return f
	}
}
