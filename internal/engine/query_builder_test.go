package engine

import (
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restkit/internal/metadata"
)

var (
	employeeCols = []string{"id", "person_id", "department_id", "title", "salary"}
	personCols   = []string{"id", "email", "first_name", "last_name", "password_hash", "roles"}
)

func selectList(alias string, cols ...string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c + " AS " + alias + "__" + c
	}
	return strings.Join(out, ", ")
}

func newBuilder(t *testing.T, reg *metadata.Registry, model string, params map[string]string) *QueryBuilder {
	t.Helper()
	m := reg.GetModel(model)
	require.NotNil(t, m)
	search := mustSearch(t, params)
	active, err := buildActiveRelations(reg, m, search)
	require.NoError(t, err)
	return &QueryBuilder{Model: m, Registry: reg, Active: active, Search: search, Placeholder: sq.Question}
}

func TestBuildJoinsParentAndFilters(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "employee", map[string]string{
		"title": "Eng*", "first_name": "Ada", "sort": "-title", "limit": "10", "page": "3",
	})

	sel, err := qb.Build(false)
	require.NoError(t, err)
	sql, args, err := sel.ToSql()
	require.NoError(t, err)

	want := "SELECT " + selectList("employees", employeeCols...) + ", " + selectList("person", personCols...) +
		" FROM employees LEFT JOIN people AS person ON person.id = employees.person_id" +
		" WHERE person.first_name = ? AND employees.title LIKE ?" +
		" ORDER BY employees.title DESC LIMIT 10 OFFSET 20"
	assert.Equal(t, want, sql)
	assert.Equal(t, []any{"Ada", "Eng%"}, args)
	assert.Equal(t, []string{"employees", "person"}, qb.SelectedAliases())
}

func TestBuildCount(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "employee", map[string]string{"title": "Eng", "sort": "title", "limit": "10"})

	sel, err := qb.Build(true)
	require.NoError(t, err)
	sql, args, err := sel.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(*) AS record_count FROM employees LEFT JOIN people AS person ON person.id = employees.person_id WHERE employees.title = ?",
		sql)
	assert.Equal(t, []any{"Eng"}, args)
}

func TestBuildGrandParentChain(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "manager", map[string]string{"title": "Lead", "email": "*@acme.test"})

	sel, err := qb.Build(false)
	require.NoError(t, err)
	sql, args, err := sel.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, " FROM managers"+
		" LEFT JOIN employees AS employee ON employee.id = managers.employee_id"+
		" LEFT JOIN people AS person ON person.id = employee.person_id")
	assert.Contains(t, sql, "WHERE person.email LIKE ? AND employee.title = ?")
	assert.Equal(t, []any{"%@acme.test", "Lead"}, args)
	assert.Equal(t, []string{"managers", "employee", "person"}, qb.SelectedAliases())
}

func TestBuildHasOneSelectsJoinedColumns(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "employee", map[string]string{"with": "badge,department"})

	sel, err := qb.Build(false)
	require.NoError(t, err)
	sql, _, err := sel.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "LEFT JOIN departments AS department ON department.id = employees.department_id")
	assert.Contains(t, sql, "LEFT JOIN badges AS badge ON badge.employee_id = employees.id")
	assert.Contains(t, sql, selectList("badge", "id", "employee_id", "code"))
	assert.NotContains(t, sql, "department.name AS")
	assert.Equal(t, []string{"employees", "person", "badge"}, qb.SelectedAliases())

	qb.JoinBelongsToColumns = true
	sel, err = qb.Build(false)
	require.NoError(t, err)
	sql, _, err = sel.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, selectList("department", "id", "name"))
	assert.Equal(t, []string{"employees", "person", "department", "badge"}, qb.SelectedAliases())
}

func TestBuildHooks(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "task", map[string]string{"limit": "5"})
	qb.BeforeHook = func(qb *QueryBuilder) error {
		qb.Select = qb.Select.Where(sq.Gt{"tasks.id": 3})
		return nil
	}
	qb.AfterHook = func(qb *QueryBuilder) error {
		qb.Columns = append(qb.Columns, "UPPER(tasks.title) AS shout")
		return nil
	}

	sel, err := qb.Build(false)
	require.NoError(t, err)
	sql, args, err := sel.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT "+selectList("tasks", "id", "employee_id", "title")+", UPPER(tasks.title) AS shout FROM tasks WHERE tasks.id > ? LIMIT 5",
		sql)
	assert.Equal(t, []any{3}, args)
}

func TestBuildSingleSkipsPaging(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "task", map[string]string{"limit": "5", "offset": "10"})
	qb.single = true
	qb.Where(sq.Eq{"tasks.id": 9})

	sel, err := qb.Build(false)
	require.NoError(t, err)
	sql, args, err := sel.ToSql()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, "FROM tasks WHERE tasks.id = ?"), sql)
	assert.Equal(t, []any{9}, args)
}

func TestOffsetWithoutLimitIsBadQuery(t *testing.T) {
	reg := loadRegistry(t)
	m := reg.GetModel("task")
	search, err := NewSearchHelper(nil, metadata.Defaults{With: WithNone, Offset: "5"})
	require.NoError(t, err)
	active, err := buildActiveRelations(reg, m, search)
	require.NoError(t, err)
	qb := &QueryBuilder{Model: m, Registry: reg, Active: active, Search: search}

	_, err = qb.Build(false)
	requireCode(t, err, "BAD_QUERY", 400)
}

func TestResolveColumn(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "employee", map[string]string{"with": "department,task"})

	cases := []struct {
		table, field string
		want         string
		code         string
	}{
		{"", "title", "employees.title", ""},
		{"", "first_name", "person.first_name", ""},
		{"employees", "title", "employees.title", ""},
		{"employee", "id", "employees.id", ""},
		{"department", "name", "department.name", ""},
		{"departments", "name", "department.name", ""},
		{"person", "email", "person.email", ""},
		{"", "salary", "", "UNKNOWN_FIELD"},
		{"", "password_hash", "", "UNKNOWN_FIELD"},
		{"department", "budget", "", "UNKNOWN_FIELD"},
		{"widgets", "name", "", "UNKNOWN_TABLE_PREFIX"},
		{"task", "title", "", "UNKNOWN_TABLE_PREFIX"},
	}
	for _, tc := range cases {
		t.Run(tc.table+":"+tc.field, func(t *testing.T) {
			got, err := qb.ResolveColumn(tc.table, tc.field)
			if tc.code != "" {
				requireCode(t, err, tc.code, 400)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInactiveRelationPrefixIsRejected(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "employee", map[string]string{"department:name": "R*"})
	_, err := qb.Build(false)
	requireCode(t, err, "UNKNOWN_TABLE_PREFIX", 400)
}

func TestStoredColumnReachesBlockedColumns(t *testing.T) {
	reg := loadRegistry(t)
	qb := newBuilder(t, reg, "manager", nil)

	col, err := qb.StoredColumn("salary")
	require.NoError(t, err)
	assert.Equal(t, "employee.salary", col)

	col, err = qb.StoredColumn("password_hash")
	require.NoError(t, err)
	assert.Equal(t, "person.password_hash", col)

	_, err = qb.StoredColumn("nope")
	requireCode(t, err, "BAD_SCHEMA", 500)
}
