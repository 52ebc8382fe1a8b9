package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(table, field string) (string, error) {
	if table != "" {
		return table + "." + field, nil
	}
	return field, nil
}

func TestValuePredicate(t *testing.T) {
	cases := []struct {
		value string
		sql   string
		args  []any
	}{
		{"*ada*", "name LIKE ?", []any{"%ada%"}},
		{"ada*", "name LIKE ?", []any{"ada%"}},
		{"!ada!", "name NOT LIKE ?", []any{"ada"}},
		{"!*ada!", "name NOT LIKE ?", []any{"%ada"}},
		{"~1~5", "name BETWEEN ? AND ?", []any{"1", "5"}},
		{"NULL", "name IS NULL", nil},
		{"!NULL", "name IS NOT NULL", nil},
		{"<=5", "name <= ?", []any{"5"}},
		{">=5", "name >= ?", []any{"5"}},
		{"<>5", "name <> ?", []any{"5"}},
		{"!=5", "name <> ?", []any{"5"}},
		{">5", "name > ?", []any{"5"}},
		{"<5", "name < ?", []any{"5"}},
		{"ada", "name = ?", []any{"ada"}},
		{"!", "name = ?", []any{"!"}},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			pred, err := valuePredicate("name", tc.value)
			require.NoError(t, err)
			sql, args, err := pred.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tc.sql, sql)
			if tc.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tc.args, args)
			}
		})
	}
}

func TestBadBetween(t *testing.T) {
	for _, v := range []string{"~1", "~~5", "~1~", "~1~2~3"} {
		_, err := valuePredicate("name", v)
		requireCode(t, err, "BAD_BETWEEN", 400)
	}
}

func TestParseQueryField(t *testing.T) {
	qf, err := ParseQueryField("person:first_name||title", "Ada")
	require.NoError(t, err)
	assert.Equal(t, []FieldName{
		{Table: "person", Field: "first_name", Original: "person:first_name"},
		{Field: "title", Original: "title"},
	}, qf.Names)
	assert.True(t, qf.Grouped())

	for _, name := range []string{":title", "title||", "person:"} {
		_, err := ParseQueryField(name, "x")
		requireCode(t, err, "BAD_FILTER", 400)
	}
}

func TestGroupedPredicateIsOr(t *testing.T) {
	qf, err := ParseQueryField("first_name||last_name", "ada||bob")
	require.NoError(t, err)
	pred, err := qf.Predicate(identity)
	require.NoError(t, err)
	sql, args, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(first_name = ? OR first_name = ? OR last_name = ? OR last_name = ?)", sql)
	assert.Equal(t, []any{"ada", "bob", "ada", "bob"}, args)
}

func TestSinglePredicateIsNotWrapped(t *testing.T) {
	qf, err := ParseQueryField("title", ">=3")
	require.NoError(t, err)
	pred, err := qf.Predicate(identity)
	require.NoError(t, err)
	sql, _, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "title >= ?", sql)
}
